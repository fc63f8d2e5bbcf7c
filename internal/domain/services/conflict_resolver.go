package services

import (
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	pkgmodels "github.com/athebyme/gomarket-sync/pkg/models"
)

// ConflictResolver принимает решение о разрешении расхождений между локальной
// и удаленной версией товара. Резолвер чистый и детерминированный: никакого
// I/O, решение зависит только от аргументов
type ConflictResolver struct{}

// NewConflictResolver создает новый ConflictResolver
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// localChanged сообщает, менялся ли товар локально после последней синхронизации
func localChanged(local *models.Product, mirror *models.OfferMirror) bool {
	if local.Dirty {
		return true
	}
	if mirror.LastSyncedAt == nil {
		return true
	}
	return local.UpdatedAt.After(*mirror.LastSyncedAt)
}

// remoteChanged сообщает, менялся ли оффер на маркетплейсе с последнего pull.
// Если обе стороны несут токен ревизии, сравниваются ревизии, иначе updated_at
func remoteChanged(mirror *models.OfferMirror, remote *pkgmodels.RemoteOffer) bool {
	if remote.Revision != "" && mirror.RemoteRevision != "" {
		return remote.Revision != mirror.RemoteRevision
	}
	return remote.UpdatedAt.After(mirror.RemoteUpdatedAt)
}

// Diverged возвращает флаги изменения каждой из сторон относительно
// последнего синхронизированного состояния
func (r *ConflictResolver) Diverged(local *models.Product, mirror *models.OfferMirror, remote *pkgmodels.RemoteOffer) (bool, bool) {
	return localChanged(local, mirror), remoteChanged(mirror, remote)
}

// Resolve решает, какая сторона выигрывает.
//
// Правила, в порядке приоритета:
//  1. Семантически несовместимое состояние (отрицательный остаток,
//     неполные обязательные поля удаленной стороны) -> MANUAL
//  2. Изменилась только одна сторона -> она и выигрывает
//  3. Изменились обе -> last-writer-wins по UpdatedAt; при равенстве
//     выигрывает маркетплейс (REMOTE_WINS)
func (r *ConflictResolver) Resolve(local *models.Product, mirror *models.OfferMirror, remote *pkgmodels.RemoteOffer) models.ConflictRecord {
	rec := models.ConflictRecord{
		EntityID:        local.ID,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remote.UpdatedAt,
	}

	if local.Stock < 0 || remote.Quantity < 0 {
		rec.Resolution = models.ResolutionManual
		rec.Reason = "negative stock"
		return rec
	}
	if remote.SKU == "" || remote.Currency == "" || remote.UpdatedAt.IsZero() {
		rec.Resolution = models.ResolutionManual
		rec.Reason = "remote offer is missing required fields"
		return rec
	}

	lc, rc := r.Diverged(local, mirror, remote)
	switch {
	case lc && !rc:
		rec.Resolution = models.ResolutionLocalWins
		rec.Reason = "only local side changed"
	case rc && !lc:
		rec.Resolution = models.ResolutionRemoteWins
		rec.Reason = "only remote side changed"
	case lc && rc:
		if local.UpdatedAt.After(remote.UpdatedAt) {
			rec.Resolution = models.ResolutionLocalWins
			rec.Reason = "both sides changed, local update is newer"
		} else {
			rec.Resolution = models.ResolutionRemoteWins
			rec.Reason = "both sides changed, remote update is newer or concurrent"
		}
	default:
		rec.Resolution = models.ResolutionRemoteWins
		rec.Reason = "no divergence"
	}
	return rec
}
