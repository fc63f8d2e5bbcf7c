package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	pkgmodels "github.com/athebyme/gomarket-sync/pkg/models"
	"github.com/google/uuid"
)

// PullStrategy синхронизация Marketplace -> DB: офферы маркетплейса
// постранично вычитываются и накладываются на локальные зеркала и товары
type PullStrategy struct {
	repo        storage.Repository
	marketplace interfaces.MarketplaceClient
	cache       interfaces.CachePort
	logger      interfaces.LoggerPort
	workerCount int
	pageSize    int
}

// NewPullStrategy создает новую pull-стратегию
func NewPullStrategy(
	repo storage.Repository,
	marketplace interfaces.MarketplaceClient,
	cache interfaces.CachePort,
	logger interfaces.LoggerPort,
	workerCount int,
	pageSize int,
) *PullStrategy {
	if pageSize < 1 {
		pageSize = 100
	}
	return &PullStrategy{
		repo:        repo,
		marketplace: marketplace,
		cache:       cache,
		logger:      logger,
		workerCount: workerCount,
		pageSize:    pageSize,
	}
}

// Execute вычитывает офферы маркетплейса курсорными страницами, пока не
// обработает batchSize элементов или не закончатся страницы. Страницы
// вычитываются последовательно, элементы страницы обрабатываются пулом
func (s *PullStrategy) Execute(ctx context.Context, batchSize int) (*models.SyncReport, error) {
	var results []itemResult
	cursor := ""
	remaining := batchSize

	for remaining > 0 {
		limit := s.pageSize
		if remaining < limit {
			limit = remaining
		}

		page, err := s.marketplace.ListOffers(ctx, cursor, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list marketplace offers: %w", err)
		}
		if len(page.Offers) == 0 {
			break
		}

		pageResults := make([]itemResult, len(page.Offers))
		fanOut(ctx, s.workerCount, len(page.Offers), func(ctx context.Context, i int) {
			pageResults[i] = s.pullOffer(ctx, page.Offers[i])
		})
		results = append(results, pageResults...)

		remaining -= len(page.Offers)
		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}

	return foldResults(results)
}

// pullOffer обрабатывает один удаленный оффер и классифицирует исход
func (s *PullStrategy) pullOffer(ctx context.Context, offer *pkgmodels.RemoteOffer) itemResult {
	if err := s.applyRemoteOffer(ctx, offer); err != nil {
		if !interfaces.IsRetryable(err) {
			return itemResult{
				outcome: outcomeFailed,
				err:     &models.SyncItemError{ItemID: offer.ID, Message: err.Error()},
				fatal:   err,
			}
		}
		s.logger.WarnWithContext(ctx, "Ошибка применения удаленного оффера",
			interfaces.LogField{Key: "remote_offer_id", Value: offer.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return itemResult{
			outcome: outcomeFailed,
			err:     &models.SyncItemError{ItemID: offer.ID, Message: err.Error()},
		}
	}
	return itemResult{outcome: outcomeSuccess}
}

// applyRemoteOffer переносит состояние удаленного оффера в локальный товар
// и зеркало. Неизмененные офферы пропускаются по ревизии/updated_at.
// Существующее зеркало обновляется условно (compare-and-set), чтобы не
// затереть конкурентное обновление от вебхука
func (s *PullStrategy) applyRemoteOffer(ctx context.Context, offer *pkgmodels.RemoteOffer) error {
	if offer.SKU == "" {
		return fmt.Errorf("remote offer %s has no sku", offer.ID)
	}

	mirror, err := s.repo.GetMirrorByRemoteID(ctx, offer.ID)
	if err != nil && !errors.Is(err, utils.ErrMirrorNotFound) {
		return fmt.Errorf("failed to get offer mirror: %w", err)
	}

	if mirror != nil && !remoteChanged(mirror, offer) {
		// оффер не менялся с последнего pull
		return nil
	}

	now := time.Now().UTC()

	product, err := s.repo.GetProductBySKU(ctx, offer.SKU)
	if err != nil {
		if !errors.Is(err, utils.ErrProductNotFound) {
			return fmt.Errorf("failed to get product by sku: %w", err)
		}
		// товара еще нет локально, заводим из удаленного состояния
		product = &models.Product{
			ID:        uuid.New().String(),
			SKU:       offer.SKU,
			CreatedAt: now,
		}
	}

	product.Name = offer.Title
	product.Price = offer.Price
	product.Currency = offer.Currency
	product.Stock = offer.Quantity
	product.Published = offer.Published
	product.Dirty = false
	product.UpdatedAt = now

	if err := s.repo.SaveProduct(ctx, product); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}

	updated := &models.OfferMirror{
		ProductID:       product.ID,
		RemoteOfferID:   offer.ID,
		Quantity:        offer.Quantity,
		Price:           offer.Price,
		Currency:        offer.Currency,
		Published:       offer.Published,
		RemoteRevision:  offer.Revision,
		RemoteUpdatedAt: offer.UpdatedAt,
		LastSyncedAt:    &now,
	}

	if mirror != nil {
		if err := s.repo.UpdateMirrorCAS(ctx, updated, mirror.Version); err != nil {
			return fmt.Errorf("failed to update offer mirror: %w", err)
		}
	} else {
		if err := s.repo.SaveMirror(ctx, updated); err != nil {
			return fmt.Errorf("failed to save offer mirror: %w", err)
		}
	}

	if err := s.cache.Delete(ctx, mirrorCacheKey(product.ID)); err != nil && !errors.Is(err, interfaces.ErrCacheMiss) {
		s.logger.WarnWithContext(ctx, "Не удалось инвалидировать кэш зеркала",
			interfaces.LogField{Key: "product_id", Value: product.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
	return nil
}
