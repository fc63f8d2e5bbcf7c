package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// webhookLockTTL срок жизни блокировки обработки одной доставки
const webhookLockTTL = 30 * time.Second

// WebhookProcessor обрабатывает входящие события маркетплейса с
// exactly-once эффектом: событие сначала сохраняется, дедупликация идет
// по внешнему ID события, побочные эффекты применяются ровно один раз.
// Ошибки и паники обработчиков никогда не доходят до транспортного слоя:
// они фиксируются в записи события, доступной для повтора
type WebhookProcessor struct {
	repo      storage.Repository
	txManager tx.TxManager
	cache     interfaces.CachePort
	notifier  interfaces.NotifierPort
	logger    interfaces.LoggerPort
}

// NewWebhookProcessor создает новый WebhookProcessor
func NewWebhookProcessor(
	repo storage.Repository,
	txManager tx.TxManager,
	cache interfaces.CachePort,
	notifier interfaces.NotifierPort,
	logger interfaces.LoggerPort,
) *WebhookProcessor {
	return &WebhookProcessor{
		repo:      repo,
		txManager: txManager,
		cache:     cache,
		notifier:  notifier,
		logger:    logger,
	}
}

// ProcessEvent сохраняет и обрабатывает одну доставку вебхука.
// Повторная доставка уже обработанного события возвращает его без
// побочных эффектов. Ошибка возвращается только при сбое хранилища;
// ошибка обработчика фиксируется в самом событии
func (p *WebhookProcessor) ProcessEvent(ctx context.Context, externalEventID, eventType, source string, payload json.RawMessage) (*models.WebhookEvent, error) {
	if externalEventID == "" {
		return nil, utils.ErrEmptyExternalEventID
	}

	event := &models.WebhookEvent{
		ID:              uuid.New().String(),
		ExternalEventID: externalEventID,
		EventType:       eventType,
		Source:          source,
		RawPayload:      payload,
		CreatedAt:       time.Now().UTC(),
	}

	// сначала долговечная запись, потом побочные эффекты
	inserted, err := p.repo.CreateWebhookEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !inserted {
		existing, err := p.repo.GetWebhookEventByExternalID(ctx, externalEventID)
		if err != nil {
			return nil, fmt.Errorf("failed to get webhook event: %w", err)
		}
		if existing.Processed {
			// повторная доставка уже обработанного события — no-op
			return existing, nil
		}
		event = existing
	}

	// короткая блокировка против конкурентной обработки той же доставки.
	// Ошибка Redis не блокирует обработку: дедупликация в БД остается
	lockKey := "webhook:lock:" + externalEventID
	if ok, lockErr := p.cache.Lock(ctx, lockKey, webhookLockTTL); lockErr == nil && !ok {
		return event, nil
	}
	defer func() { _ = p.cache.Unlock(ctx, lockKey) }()

	return p.processStored(ctx, event)
}

// RetryEvent повторяет обработку ранее упавшего события.
// Уже обработанное событие повторять нельзя
func (p *WebhookProcessor) RetryEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := p.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		return nil, utils.ErrEventAlreadyProcessed
	}
	return p.processStored(ctx, event)
}

// processStored выполняет обработчик и фиксирует исход в записи события.
// Побочные эффекты и перевод события в PROCESSED идут одной транзакцией:
// откат эффектов откатывает и флаг, флаг без эффектов невозможен
func (p *WebhookProcessor) processStored(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, error) {
	handlerErr := p.txManager.Do(ctx, func(txCtx context.Context) error {
		if err := p.handle(txCtx, event); err != nil {
			return err
		}
		event.MarkProcessed(time.Now().UTC())
		return p.repo.UpdateWebhookEvent(txCtx, event)
	})
	if handlerErr == nil {
		return event, nil
	}

	if errors.Is(handlerErr, utils.ErrEventAlreadyProcessed) {
		// конкурентная доставка довела событие до конца первой; наши
		// эффекты откатились вместе с транзакцией
		existing, err := p.repo.GetWebhookEvent(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get webhook event: %w", err)
		}
		return existing, nil
	}

	event.MarkFailed(handlerErr)
	p.logger.ErrorWithContext(ctx, "Ошибка обработки события вебхука",
		interfaces.LogField{Key: "event_id", Value: event.ID},
		interfaces.LogField{Key: "event_type", Value: event.EventType},
		interfaces.LogField{Key: "retry_count", Value: event.RetryCount},
		interfaces.LogField{Key: "error", Value: handlerErr.Error()},
	)
	if err := p.repo.UpdateWebhookEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to update webhook event: %w", err)
	}
	return event, nil
}

// handle диспетчеризует событие обработчику по типу. Паники обработчиков
// перехватываются здесь и превращаются в обычную ошибку обработки
func (p *WebhookProcessor) handle(ctx context.Context, event *models.WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in webhook handler: %v", r)
		}
	}()

	switch event.EventType {
	case models.EventOrderCreated:
		return p.handleOrderCreated(ctx, event)
	case models.EventOrderUpdated:
		return p.handleOrderUpdated(ctx, event)
	case models.EventOfferUpdated:
		return p.handleOfferUpdated(ctx, event)
	case models.EventInventoryUpdated, models.EventOfferInventoryUpdated:
		return p.handleInventoryUpdated(ctx, event)
	default:
		// неизвестный тип не ошибка: логируем и считаем обработанным
		p.logger.WarnWithContext(ctx, "Неизвестный тип события вебхука",
			interfaces.LogField{Key: "event_id", Value: event.ID},
			interfaces.LogField{Key: "event_type", Value: event.EventType},
		)
		return nil
	}
}

// handleOrderCreated списывает остатки по позициям заказа.
// Списание относительное и атомарное: никакой перезаписи абсолютным
// значением, конкурентные заказы не теряют списаний
func (p *WebhookProcessor) handleOrderCreated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.OrderCreatedPayload
	if err := json.Unmarshal(event.RawPayload, &payload); err != nil {
		return fmt.Errorf("failed to decode order.created payload: %w", err)
	}

	productIDs, err := p.adjustStockForLines(ctx, payload.Lines, -1)
	if err != nil {
		return err
	}
	p.invalidateMirrors(ctx, productIDs)

	// уведомление оператору fire-and-forget
	_ = p.notifier.Notify(ctx, messaging.NotificationOrderCreated, map[string]interface{}{
		"order_id": payload.OrderID,
		"lines":    len(payload.Lines),
	})
	return nil
}

// handleOrderUpdated возвращает остатки по отмененным позициям
func (p *WebhookProcessor) handleOrderUpdated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.OrderUpdatedPayload
	if err := json.Unmarshal(event.RawPayload, &payload); err != nil {
		return fmt.Errorf("failed to decode order.updated payload: %w", err)
	}
	if len(payload.CancelledLines) == 0 {
		return nil
	}

	productIDs, err := p.adjustStockForLines(ctx, payload.CancelledLines, 1)
	if err != nil {
		return err
	}
	p.invalidateMirrors(ctx, productIDs)
	return nil
}

// adjustStockForLines применяет относительные изменения остатков по позициям
// заказа в одной транзакции: зеркало и товар меняются согласованно.
// sign равен -1 для списания и +1 для возврата
func (p *WebhookProcessor) adjustStockForLines(ctx context.Context, lines []models.OrderLinePayload, sign int) ([]string, error) {
	productIDs := make([]string, 0, len(lines))

	err := p.txManager.Do(ctx, func(txCtx context.Context) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}
			delta := sign * line.Quantity

			mirror, err := p.repo.GetMirrorByRemoteID(txCtx, line.OfferID)
			if err != nil {
				return fmt.Errorf("failed to get mirror for offer %s: %w", line.OfferID, err)
			}
			if _, err := p.repo.AdjustMirrorStock(txCtx, line.OfferID, delta); err != nil {
				return fmt.Errorf("failed to adjust mirror stock for offer %s: %w", line.OfferID, err)
			}
			if _, err := p.repo.AdjustProductStock(txCtx, mirror.ProductID, delta); err != nil {
				return fmt.Errorf("failed to adjust product stock for product %s: %w", mirror.ProductID, err)
			}
			productIDs = append(productIDs, mirror.ProductID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return productIDs, nil
}

// handleOfferUpdated накладывает изменение цены/публикации на зеркало.
// Устаревшие события (updated_at не новее известного) игнорируются,
// запись условная (compare-and-set)
func (p *WebhookProcessor) handleOfferUpdated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.OfferUpdatedPayload
	if err := json.Unmarshal(event.RawPayload, &payload); err != nil {
		return fmt.Errorf("failed to decode offer.updated payload: %w", err)
	}

	mirror, err := p.repo.GetMirrorByRemoteID(ctx, payload.OfferID)
	if err != nil {
		return fmt.Errorf("failed to get mirror for offer %s: %w", payload.OfferID, err)
	}
	if !payload.UpdatedAt.After(mirror.RemoteUpdatedAt) {
		// событие старше известного состояния
		return nil
	}

	updated := *mirror
	if payload.Price != "" {
		price, err := decimal.NewFromString(payload.Price)
		if err != nil {
			return fmt.Errorf("invalid price in offer.updated payload: %w", err)
		}
		updated.Price = price
	}
	if payload.Currency != "" {
		updated.Currency = payload.Currency
	}
	if payload.Published != nil {
		updated.Published = *payload.Published
	}
	updated.RemoteUpdatedAt = payload.UpdatedAt

	if err := p.repo.UpdateMirrorCAS(ctx, &updated, mirror.Version); err != nil {
		return fmt.Errorf("failed to update mirror for offer %s: %w", payload.OfferID, err)
	}

	p.invalidateMirrors(ctx, []string{mirror.ProductID})
	return nil
}

// handleInventoryUpdated выравнивает остаток по абсолютному значению
// маркетплейса. Зеркало получает новое значение условной записью, товар —
// относительную дельту, чтобы не потерять конкурентные списания
func (p *WebhookProcessor) handleInventoryUpdated(ctx context.Context, event *models.WebhookEvent) error {
	var payload models.InventoryUpdatedPayload
	if err := json.Unmarshal(event.RawPayload, &payload); err != nil {
		return fmt.Errorf("failed to decode inventory payload: %w", err)
	}
	if payload.Quantity < 0 {
		return fmt.Errorf("negative quantity %d in inventory payload for offer %s", payload.Quantity, payload.OfferID)
	}

	mirror, err := p.repo.GetMirrorByRemoteID(ctx, payload.OfferID)
	if err != nil {
		return fmt.Errorf("failed to get mirror for offer %s: %w", payload.OfferID, err)
	}
	if !payload.UpdatedAt.After(mirror.RemoteUpdatedAt) {
		return nil
	}

	delta := payload.Quantity - mirror.Quantity
	updated := *mirror
	updated.Quantity = payload.Quantity
	updated.RemoteUpdatedAt = payload.UpdatedAt

	err = p.txManager.Do(ctx, func(txCtx context.Context) error {
		if err := p.repo.UpdateMirrorCAS(txCtx, &updated, mirror.Version); err != nil {
			return fmt.Errorf("failed to update mirror for offer %s: %w", payload.OfferID, err)
		}
		if delta != 0 {
			if _, err := p.repo.AdjustProductStock(txCtx, mirror.ProductID, delta); err != nil {
				return fmt.Errorf("failed to adjust product stock for product %s: %w", mirror.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.invalidateMirrors(ctx, []string{mirror.ProductID})
	return nil
}

// invalidateMirrors сбрасывает кэш зеркал; ошибки кэша не фатальны
func (p *WebhookProcessor) invalidateMirrors(ctx context.Context, productIDs []string) {
	for _, id := range productIDs {
		if err := p.cache.Delete(ctx, mirrorCacheKey(id)); err != nil && !errors.Is(err, interfaces.ErrCacheMiss) {
			p.logger.WarnWithContext(ctx, "Не удалось инвалидировать кэш зеркала",
				interfaces.LogField{Key: "product_id", Value: id},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}
}
