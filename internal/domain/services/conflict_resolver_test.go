package services

import (
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	pkgmodels "github.com/athebyme/gomarket-sync/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func baseState() (*models.Product, *models.OfferMirror, *pkgmodels.RemoteOffer) {
	synced := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	product := &models.Product{
		ID:        "p1",
		SKU:       "SKU-1",
		Name:      "Товар",
		Price:     decimal.NewFromInt(100),
		Currency:  "RUB",
		Stock:     10,
		UpdatedAt: synced,
	}
	mirror := &models.OfferMirror{
		ProductID:       "p1",
		RemoteOfferID:   "o1",
		Quantity:        10,
		RemoteUpdatedAt: synced,
		LastSyncedAt:    &synced,
		Version:         1,
	}
	remote := &pkgmodels.RemoteOffer{
		ID:        "o1",
		SKU:       "SKU-1",
		Title:     "Товар",
		Price:     decimal.NewFromInt(100),
		Currency:  "RUB",
		Quantity:  10,
		UpdatedAt: synced,
	}
	return product, mirror, remote
}

func TestResolveOnlyLocalChanged(t *testing.T) {
	resolver := NewConflictResolver()
	product, mirror, remote := baseState()
	product.Dirty = true
	product.UpdatedAt = product.UpdatedAt.Add(time.Hour)

	rec := resolver.Resolve(product, mirror, remote)
	assert.Equal(t, models.ResolutionLocalWins, rec.Resolution)
}

func TestResolveOnlyRemoteChanged(t *testing.T) {
	resolver := NewConflictResolver()
	product, mirror, remote := baseState()
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)

	rec := resolver.Resolve(product, mirror, remote)
	assert.Equal(t, models.ResolutionRemoteWins, rec.Resolution)
}

func TestResolveBothChangedLastWriterWins(t *testing.T) {
	resolver := NewConflictResolver()

	t.Run("локальная версия новее", func(t *testing.T) {
		product, mirror, remote := baseState()
		product.Dirty = true
		remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)
		product.UpdatedAt = remote.UpdatedAt.Add(time.Minute)

		rec := resolver.Resolve(product, mirror, remote)
		assert.Equal(t, models.ResolutionLocalWins, rec.Resolution)
	})

	t.Run("удаленная версия новее", func(t *testing.T) {
		product, mirror, remote := baseState()
		product.Dirty = true
		product.UpdatedAt = product.UpdatedAt.Add(time.Hour)
		remote.UpdatedAt = product.UpdatedAt.Add(time.Minute)

		rec := resolver.Resolve(product, mirror, remote)
		assert.Equal(t, models.ResolutionRemoteWins, rec.Resolution)
	})

	t.Run("при равных временах выигрывает маркетплейс", func(t *testing.T) {
		product, mirror, remote := baseState()
		sameTime := product.UpdatedAt.Add(time.Hour)
		product.Dirty = true
		product.UpdatedAt = sameTime
		remote.UpdatedAt = sameTime

		rec := resolver.Resolve(product, mirror, remote)
		assert.Equal(t, models.ResolutionRemoteWins, rec.Resolution)
	})
}

func TestResolveManualOnIncompatibleState(t *testing.T) {
	resolver := NewConflictResolver()

	t.Run("отрицательный остаток", func(t *testing.T) {
		product, mirror, remote := baseState()
		product.Stock = -1

		rec := resolver.Resolve(product, mirror, remote)
		assert.Equal(t, models.ResolutionManual, rec.Resolution)
		assert.NotEmpty(t, rec.Reason)
	})

	t.Run("неполные поля удаленной стороны", func(t *testing.T) {
		product, mirror, remote := baseState()
		remote.SKU = ""
		remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)

		rec := resolver.Resolve(product, mirror, remote)
		assert.Equal(t, models.ResolutionManual, rec.Resolution)
	})
}

func TestResolveDeterministic(t *testing.T) {
	resolver := NewConflictResolver()
	product, mirror, remote := baseState()
	product.Dirty = true
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)

	first := resolver.Resolve(product, mirror, remote)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, resolver.Resolve(product, mirror, remote))
	}
}

func TestDivergedUsesRevisionWhenPresent(t *testing.T) {
	resolver := NewConflictResolver()
	product, mirror, remote := baseState()
	mirror.RemoteRevision = "rev-1"
	remote.Revision = "rev-1"
	// updated_at ушло вперед, но ревизия та же: изменения нет
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Hour)

	_, rc := resolver.Diverged(product, mirror, remote)
	assert.False(t, rc)

	remote.Revision = "rev-2"
	_, rc = resolver.Diverged(product, mirror, remote)
	assert.True(t, rc)
}
