package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(repo *fakeRepo) (*WebhookProcessor, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return NewWebhookProcessor(repo, fakeTxManager{}, newFakeCache(), notifier, nopLogger{}), notifier
}

func seedProductWithMirror(repo *fakeRepo, productID, offerID string, stock int) {
	synced := time.Now().UTC().Add(-time.Hour)
	p := addProduct(repo, productID, "SKU-"+productID, stock, false)
	p.UpdatedAt = synced
	repo.mirrors[productID] = &models.OfferMirror{
		ProductID:       productID,
		RemoteOfferID:   offerID,
		Quantity:        stock,
		Price:           decimal.NewFromInt(100),
		Currency:        "RUB",
		RemoteUpdatedAt: synced,
		LastSyncedAt:    &synced,
		Version:         1,
	}
}

func orderCreatedPayload(t *testing.T, orderID, offerID string, qty int) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(models.OrderCreatedPayload{
		OrderID: orderID,
		Lines:   []models.OrderLinePayload{{OfferID: offerID, Quantity: qty}},
	})
	require.NoError(t, err)
	return payload
}

func TestProcessEventOrderCreatedDecrementsStock(t *testing.T) {
	repo := newFakeRepo()
	processor, notifier := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 10)

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o1", 3))
	require.NoError(t, err)

	assert.True(t, event.Processed)
	require.NotNil(t, event.ProcessedAt)

	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	m, err := repo.GetMirrorByRemoteID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 7, m.Quantity)

	assert.Contains(t, notifier.kinds, "order_created")
}

func TestProcessEventIdempotentOnDuplicateDelivery(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 10)

	payload := orderCreatedPayload(t, "ord-1", "o1", 3)

	first, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace", payload)
	require.NoError(t, err)
	require.True(t, first.Processed)

	// повторная доставка того же события не применяет эффекты второй раз
	second, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace", payload)
	require.NoError(t, err)
	assert.True(t, second.Processed)
	assert.Equal(t, first.ID, second.ID)

	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
}

func TestProcessEventEmptyExternalID(t *testing.T) {
	processor, _ := newProcessor(newFakeRepo())

	_, err := processor.ProcessEvent(context.Background(), "", models.EventOrderCreated, "marketplace", nil)
	assert.ErrorIs(t, err, utils.ErrEmptyExternalEventID)
}

func TestProcessEventUnknownTypeMarkedProcessed(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)

	event, err := processor.ProcessEvent(context.Background(), "evt-1", "offer.mystery", "marketplace",
		json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, event.Processed)
	assert.Empty(t, event.ProcessingError)
}

func TestProcessEventHandlerFailureRecordedAndRetryable(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	// зеркала нет: обработчик упадет, событие останется для повтора

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o-missing", 3))
	require.NoError(t, err)

	assert.False(t, event.Processed)
	assert.NotEmpty(t, event.ProcessingError)
	assert.Equal(t, 1, event.RetryCount)

	// создаем зеркало и повторяем
	seedProductWithMirror(repo, "p1", "o-missing", 10)

	retried, err := processor.RetryEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, retried.Processed)

	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
}

func TestRetryEventRejectsProcessed(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 10)

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o1", 3))
	require.NoError(t, err)
	require.True(t, event.Processed)

	_, err = processor.RetryEvent(context.Background(), event.ID)
	assert.ErrorIs(t, err, utils.ErrEventAlreadyProcessed)

	// повтор не применил эффекты второй раз
	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
}

func TestRetryEventNotFound(t *testing.T) {
	processor, _ := newProcessor(newFakeRepo())

	_, err := processor.RetryEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, utils.ErrEventNotFound)
}

func TestRetryCountGrowsOnRepeatedFailures(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o-missing", 3))
	require.NoError(t, err)
	assert.Equal(t, 1, event.RetryCount)

	event, err = processor.RetryEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, event.RetryCount)
	assert.False(t, event.Processed)
}

func TestProcessEventOrderUpdatedRestocksCancelledLines(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 7)

	payload, err := json.Marshal(models.OrderUpdatedPayload{
		OrderID:        "ord-1",
		Status:         "cancelled",
		CancelledLines: []models.OrderLinePayload{{OfferID: "o1", Quantity: 3}},
	})
	require.NoError(t, err)

	event, err := processor.ProcessEvent(context.Background(), "evt-2", models.EventOrderUpdated, "marketplace", payload)
	require.NoError(t, err)
	require.True(t, event.Processed)

	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestProcessEventOfferUpdatedAppliesPrice(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 7)

	published := false
	payload, err := json.Marshal(models.OfferUpdatedPayload{
		OfferID:   "o1",
		Price:     "250.50",
		Published: &published,
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	event, err := processor.ProcessEvent(context.Background(), "evt-3", models.EventOfferUpdated, "marketplace", payload)
	require.NoError(t, err)
	require.True(t, event.Processed)

	m, err := repo.GetMirrorByRemoteID(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("250.50").Equal(m.Price))
	assert.False(t, m.Published)
}

func TestProcessEventOfferUpdatedIgnoresStale(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 7)

	// updated_at старше известного состояния зеркала
	payload, err := json.Marshal(models.OfferUpdatedPayload{
		OfferID:   "o1",
		Price:     "999",
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	event, err := processor.ProcessEvent(context.Background(), "evt-4", models.EventOfferUpdated, "marketplace", payload)
	require.NoError(t, err)
	assert.True(t, event.Processed)

	m, err := repo.GetMirrorByRemoteID(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(m.Price))
}

func TestProcessEventInventoryUpdatedSetsAbsoluteQuantity(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)
	seedProductWithMirror(repo, "p1", "o1", 7)

	payload, err := json.Marshal(models.InventoryUpdatedPayload{
		OfferID:   "o1",
		Quantity:  3,
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	event, err := processor.ProcessEvent(context.Background(), "evt-5", models.EventInventoryUpdated, "marketplace", payload)
	require.NoError(t, err)
	require.True(t, event.Processed)

	m, err := repo.GetMirrorByRemoteID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Quantity)

	// товар получил относительную дельту, а не слепую перезапись
	p, err := repo.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
}

func TestProcessEventMalformedPayloadFailsEvent(t *testing.T) {
	repo := newFakeRepo()
	processor, _ := newProcessor(repo)

	event, err := processor.ProcessEvent(context.Background(), "evt-6", models.EventOrderCreated, "marketplace",
		json.RawMessage(`{not json`))
	require.NoError(t, err)

	assert.False(t, event.Processed)
	assert.Nil(t, event.ProcessedAt)
	assert.NotEmpty(t, event.ProcessingError)
	assert.Equal(t, 1, event.RetryCount)
}

// txScopeKey метит контекст, выданный менеджером транзакций
type txScopeKey struct{}

// scopedTxManager кладет метку в контекст на внешнем Do и переиспользует
// ее на вложенных, как настоящий менеджер переиспользует транзакцию
type scopedTxManager struct{}

func (scopedTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txScopeKey{}) != nil {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, txScopeKey{}, true))
}

// txScopeRepo записывает, видел ли UpdateWebhookEvent транзакционный контекст
type txScopeRepo struct {
	*fakeRepo
	updatesInTx []bool
}

func (r *txScopeRepo) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	r.updatesInTx = append(r.updatesInTx, ctx.Value(txScopeKey{}) != nil)
	return r.fakeRepo.UpdateWebhookEvent(ctx, event)
}

func TestProcessEventCommitsStatusWithEffects(t *testing.T) {
	repo := &txScopeRepo{fakeRepo: newFakeRepo()}
	seedProductWithMirror(repo.fakeRepo, "p1", "o1", 10)
	processor := NewWebhookProcessor(repo, scopedTxManager{}, newFakeCache(), &fakeNotifier{}, nopLogger{})

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o1", 3))
	require.NoError(t, err)
	require.True(t, event.Processed)

	// перевод события в PROCESSED идет в той же транзакции, что и эффекты:
	// откат эффектов не может оставить событие обработанным
	require.Len(t, repo.updatesInTx, 1)
	assert.True(t, repo.updatesInTx[0])
}

// contestedRepo имитирует конкурентную доставку: первый перевод события в
// PROCESSED проигрывает гонку, запись уже зафиксирована другой стороной
type contestedRepo struct {
	*fakeRepo
	contested bool
}

func (r *contestedRepo) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if !r.contested && event.Processed {
		r.contested = true
		stored, err := r.fakeRepo.GetWebhookEvent(ctx, event.ID)
		if err != nil {
			return err
		}
		stored.MarkProcessed(time.Now().UTC())
		if err := r.fakeRepo.UpdateWebhookEvent(ctx, stored); err != nil {
			return err
		}
		return utils.ErrEventAlreadyProcessed
	}
	return r.fakeRepo.UpdateWebhookEvent(ctx, event)
}

func TestProcessEventLostRaceReturnsStoredOutcome(t *testing.T) {
	repo := &contestedRepo{fakeRepo: newFakeRepo()}
	seedProductWithMirror(repo.fakeRepo, "p1", "o1", 10)
	processor := NewWebhookProcessor(repo, fakeTxManager{}, newFakeCache(), &fakeNotifier{}, nopLogger{})

	event, err := processor.ProcessEvent(context.Background(), "evt-1", models.EventOrderCreated, "marketplace",
		orderCreatedPayload(t, "ord-1", "o1", 3))
	require.NoError(t, err)

	// проигранная гонка не ошибка обработки: возвращается итог победителя
	assert.True(t, event.Processed)
	assert.Empty(t, event.ProcessingError)
	assert.Equal(t, 0, event.RetryCount)
}
