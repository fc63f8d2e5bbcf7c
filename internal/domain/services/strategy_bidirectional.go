package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// BidirectionalStrategy двунаправленная синхронизация: для каждой пары
// товар/оффер резолвер решает, какая сторона выигрывает. Выигрыш локальной
// стороны переиспользует push-логику, удаленной — pull-логику. Элементы с
// решением MANUAL попадают в отдельную корзину needs-review и не считаются
// ни успехом, ни ошибкой
type BidirectionalStrategy struct {
	repo        storage.Repository
	marketplace interfaces.MarketplaceClient
	resolver    *ConflictResolver
	push        *PushStrategy
	pull        *PullStrategy
	notifier    interfaces.NotifierPort
	logger      interfaces.LoggerPort
	workerCount int
}

// NewBidirectionalStrategy создает новую двунаправленную стратегию
func NewBidirectionalStrategy(
	repo storage.Repository,
	marketplace interfaces.MarketplaceClient,
	resolver *ConflictResolver,
	push *PushStrategy,
	pull *PullStrategy,
	notifier interfaces.NotifierPort,
	logger interfaces.LoggerPort,
	workerCount int,
) *BidirectionalStrategy {
	return &BidirectionalStrategy{
		repo:        repo,
		marketplace: marketplace,
		resolver:    resolver,
		push:        push,
		pull:        pull,
		notifier:    notifier,
		logger:      logger,
		workerCount: workerCount,
	}
}

// pairItem единица работы: связанная пара либо товар без зеркала
type pairItem struct {
	mirror  *models.OfferMirror
	product *models.Product
}

// Execute собирает пары из зеркал и измененных товаров без зеркала,
// затем обрабатывает их пулом воркеров
func (s *BidirectionalStrategy) Execute(ctx context.Context, batchSize int) (*models.SyncReport, error) {
	mirrors, err := s.repo.ListMirrors(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list offer mirrors: %w", err)
	}

	dirty, err := s.repo.ListDirtyProducts(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty products: %w", err)
	}

	withMirror := make(map[string]bool, len(mirrors))
	items := make([]pairItem, 0, len(mirrors)+len(dirty))
	for _, m := range mirrors {
		withMirror[m.ProductID] = true
		items = append(items, pairItem{mirror: m})
	}
	// измененные товары без зеркала пушатся как новые офферы; общий объем
	// прогона не превышает batchSize
	for _, p := range dirty {
		if len(items) == batchSize {
			break
		}
		if !withMirror[p.ID] {
			items = append(items, pairItem{product: p})
		}
	}

	results := make([]itemResult, len(items))
	fanOut(ctx, s.workerCount, len(items), func(ctx context.Context, i int) {
		results[i] = s.syncPair(ctx, items[i])
	})

	return foldResults(results)
}

// syncPair обрабатывает одну пару: грузит обе стороны, спрашивает резолвер
// и применяет его решение
func (s *BidirectionalStrategy) syncPair(ctx context.Context, item pairItem) itemResult {
	if item.mirror == nil {
		return s.push.pushProduct(ctx, item.product)
	}

	mirror := item.mirror
	product, err := s.repo.GetProduct(ctx, mirror.ProductID)
	if err != nil {
		return itemResult{
			outcome: outcomeFailed,
			err:     &models.SyncItemError{ItemID: mirror.ProductID, Message: fmt.Sprintf("failed to get product: %v", err)},
		}
	}

	remote, err := s.marketplace.GetOffer(ctx, mirror.RemoteOfferID)
	if err != nil {
		if errors.Is(err, interfaces.ErrOfferNotFound) {
			// оффер исчез на маркетплейсе, пересоздаем из локального состояния
			return s.push.pushProduct(ctx, product)
		}
		result := itemResult{
			outcome: outcomeFailed,
			err:     &models.SyncItemError{ItemID: product.ID, Message: err.Error()},
		}
		if !interfaces.IsRetryable(err) {
			result.fatal = err
		}
		return result
	}

	rec := s.resolver.Resolve(product, mirror, remote)

	if rec.Resolution == models.ResolutionManual {
		s.notifyManualConflict(ctx, product.ID, mirror.RemoteOfferID, rec.Reason)
		return itemResult{outcome: outcomeNeedsReview, conflict: &rec}
	}

	lc, rc := s.resolver.Diverged(product, mirror, remote)
	if !lc && !rc {
		// стороны сходятся: фиксируем факт сверки, чтобы последующие прогоны
		// не считали пару устаревшей
		if err := s.repo.TouchMirrorSynced(ctx, mirror.ProductID, time.Now().UTC()); err != nil {
			s.logger.WarnWithContext(ctx, "Не удалось обновить отметку сверки зеркала",
				interfaces.LogField{Key: "product_id", Value: mirror.ProductID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
		return itemResult{outcome: outcomeSuccess}
	}

	var applyErr error
	switch rec.Resolution {
	case models.ResolutionLocalWins:
		applyErr = s.push.pushOne(ctx, product)
	case models.ResolutionRemoteWins:
		applyErr = s.pull.applyRemoteOffer(ctx, remote)
	}

	result := itemResult{outcome: outcomeSuccess}
	if lc && rc {
		// настоящий конфликт (изменились обе стороны) фиксируем в отчете
		result.conflict = &rec
	}
	if applyErr != nil {
		result.outcome = outcomeFailed
		result.err = &models.SyncItemError{ItemID: product.ID, Message: applyErr.Error()}
		if !interfaces.IsRetryable(applyErr) {
			result.fatal = applyErr
		}
	}
	return result
}

// notifyManualConflict отправляет уведомление оператору fire-and-forget
func (s *BidirectionalStrategy) notifyManualConflict(ctx context.Context, productID, remoteOfferID, reason string) {
	_ = s.notifier.Notify(ctx, messaging.NotificationManualConflict, map[string]interface{}{
		"product_id":      productID,
		"remote_offer_id": remoteOfferID,
		"reason":          reason,
	})
}
