package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	pkgmodels "github.com/athebyme/gomarket-sync/pkg/models"
)

// PushStrategy синхронизация DB -> Marketplace: измененные локально товары
// отправляются на маркетплейс, зеркала офферов обновляются на успехе
type PushStrategy struct {
	repo        storage.Repository
	marketplace interfaces.MarketplaceClient
	cache       interfaces.CachePort
	logger      interfaces.LoggerPort
	workerCount int
}

// NewPushStrategy создает новую push-стратегию
func NewPushStrategy(
	repo storage.Repository,
	marketplace interfaces.MarketplaceClient,
	cache interfaces.CachePort,
	logger interfaces.LoggerPort,
	workerCount int,
) *PushStrategy {
	return &PushStrategy{
		repo:        repo,
		marketplace: marketplace,
		cache:       cache,
		logger:      logger,
		workerCount: workerCount,
	}
}

// Execute обрабатывает до batchSize товаров с флагом dirty.
// Ошибка одного элемента не прерывает батч; фатальна только ошибка
// авторизации маркетплейса
func (s *PushStrategy) Execute(ctx context.Context, batchSize int) (*models.SyncReport, error) {
	products, err := s.repo.ListDirtyProducts(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty products: %w", err)
	}

	results := make([]itemResult, len(products))
	fanOut(ctx, s.workerCount, len(products), func(ctx context.Context, i int) {
		results[i] = s.pushProduct(ctx, products[i])
	})

	return foldResults(results)
}

// SyncProduct пушит ровно один товар (специализация batchSize=1)
func (s *PushStrategy) SyncProduct(ctx context.Context, productID string) (*models.SyncReport, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, utils.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	result := s.pushProduct(ctx, product)
	return foldResults([]itemResult{result})
}

// pushProduct обрабатывает один товар и классифицирует исход
func (s *PushStrategy) pushProduct(ctx context.Context, product *models.Product) itemResult {
	if err := s.pushOne(ctx, product); err != nil {
		if !interfaces.IsRetryable(err) {
			return itemResult{
				outcome: outcomeFailed,
				err:     &models.SyncItemError{ItemID: product.ID, Message: err.Error()},
				fatal:   err,
			}
		}
		s.logger.WarnWithContext(ctx, "Ошибка пуша товара на маркетплейс",
			interfaces.LogField{Key: "product_id", Value: product.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return itemResult{
			outcome: outcomeFailed,
			err:     &models.SyncItemError{ItemID: product.ID, Message: err.Error()},
		}
	}
	return itemResult{outcome: outcomeSuccess}
}

// pushOne отправляет товар на маркетплейс и фиксирует результат в зеркале.
// Существующий оффер обновляется, отсутствующий создается
func (s *PushStrategy) pushOne(ctx context.Context, product *models.Product) error {
	mirror, err := s.getMirror(ctx, product.ID)
	if err != nil && !errors.Is(err, utils.ErrMirrorNotFound) {
		return fmt.Errorf("failed to get offer mirror: %w", err)
	}

	offer := offerFromProduct(product)

	var saved *pkgmodels.RemoteOffer
	if mirror != nil && mirror.RemoteOfferID != "" {
		saved, err = s.marketplace.UpdateOffer(ctx, mirror.RemoteOfferID, offer)
		if errors.Is(err, interfaces.ErrOfferNotFound) {
			// оффер удален на стороне маркетплейса, создаем заново
			saved, err = s.marketplace.CreateOffer(ctx, offer)
		}
	} else {
		saved, err = s.marketplace.CreateOffer(ctx, offer)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated := &models.OfferMirror{
		ProductID:       product.ID,
		RemoteOfferID:   saved.ID,
		Quantity:        product.Stock,
		Price:           product.Price,
		Currency:        product.Currency,
		Published:       product.Published,
		RemoteRevision:  saved.Revision,
		RemoteUpdatedAt: saved.UpdatedAt,
		LastSyncedAt:    &now,
	}
	if err := s.repo.SaveMirror(ctx, updated); err != nil {
		return fmt.Errorf("failed to save offer mirror: %w", err)
	}
	if err := s.repo.ClearDirty(ctx, product.ID); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}

	s.invalidateMirrorCache(ctx, product.ID)
	return nil
}

// getMirror читает зеркало сквозь кэш. Кэш только ускоряет чтение:
// любая его ошибка приводит к чтению из хранилища
func (s *PushStrategy) getMirror(ctx context.Context, productID string) (*models.OfferMirror, error) {
	key := mirrorCacheKey(productID)

	if data, err := s.cache.Get(ctx, key); err == nil {
		var cached models.OfferMirror
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		// битое значение, перечитываем из хранилища
		_ = s.cache.Delete(ctx, key)
	}

	mirror, err := s.repo.GetMirror(ctx, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(mirror); err == nil {
		if err := s.cache.Set(ctx, key, data, mirrorCacheTTL); err != nil {
			s.logger.WarnWithContext(ctx, "Не удалось закэшировать зеркало",
				interfaces.LogField{Key: "product_id", Value: productID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}
	return mirror, nil
}

// invalidateMirrorCache сбрасывает кэш зеркала; ошибка кэша не фатальна
func (s *PushStrategy) invalidateMirrorCache(ctx context.Context, productID string) {
	if err := s.cache.Delete(ctx, mirrorCacheKey(productID)); err != nil && !errors.Is(err, interfaces.ErrCacheMiss) {
		s.logger.WarnWithContext(ctx, "Не удалось инвалидировать кэш зеркала",
			interfaces.LogField{Key: "product_id", Value: productID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// offerFromProduct строит представление оффера из локального товара
func offerFromProduct(product *models.Product) *pkgmodels.RemoteOffer {
	return &pkgmodels.RemoteOffer{
		SKU:       product.SKU,
		Title:     product.Name,
		Price:     product.Price,
		Currency:  product.Currency,
		Quantity:  product.Stock,
		Published: product.Published,
	}
}
