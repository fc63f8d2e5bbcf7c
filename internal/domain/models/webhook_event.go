package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent представляет долговечную запись одного входящего уведомления
// маркетплейса. Событие сохраняется до обработки, поэтому сбой после записи
// оставляет воспроизводимый след.
//
// Машина состояний события:
//
//	RECEIVED -> PROCESSED            (обработчик завершился успешно)
//	RECEIVED -> FAILED_RETRYABLE     (обработчик вернул ошибку)
//	FAILED_RETRYABLE -> PROCESSED    (успешный повтор)
//	FAILED_RETRYABLE -> FAILED_RETRYABLE (повтор снова упал, RetryCount++)
//
// PROCESSED — единственное конечное состояние. Лимит повторов и dead-letter
// политика принадлежат операторскому слою, не процессору
type WebhookEvent struct {
	ID string `json:"id"`
	// ExternalEventID — ключ идемпотентности: повторная доставка события
	// с тем же внешним ID не должна применять побочные эффекты дважды
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	Source          string          `json:"source"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	Processed       bool            `json:"processed"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError string          `json:"processing_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MarkProcessed переводит событие в конечное состояние
func (e *WebhookEvent) MarkProcessed(at time.Time) {
	e.Processed = true
	e.ProcessedAt = &at
	e.ProcessingError = ""
}

// MarkFailed фиксирует ошибку обработчика; событие остается доступным для повтора
func (e *WebhookEvent) MarkFailed(err error) {
	e.Processed = false
	e.ProcessedAt = nil
	e.ProcessingError = err.Error()
	e.RetryCount++
}

// Типы событий, которые маркетплейс доставляет вебхуками
const (
	EventOrderCreated     = "order.created"
	EventOrderUpdated     = "order.updated"
	EventOfferUpdated     = "offer.updated"
	EventInventoryUpdated = "inventory.updated"
	// EventOfferInventoryUpdated — синоним inventory.updated в новых версиях API маркетплейса
	EventOfferInventoryUpdated = "offer.inventory.updated"
)

// OrderLinePayload представляет позицию заказа в теле вебхука
type OrderLinePayload struct {
	OfferID  string `json:"offer_id"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
}

// OrderCreatedPayload — тело события order.created
type OrderCreatedPayload struct {
	OrderID string             `json:"order_id"`
	Lines   []OrderLinePayload `json:"lines"`
}

// OrderUpdatedPayload — тело события order.updated
type OrderUpdatedPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	// CancelledLines заполнены при отмене: остатки возвращаются обратно
	CancelledLines []OrderLinePayload `json:"cancelled_lines,omitempty"`
}

// OfferUpdatedPayload — тело события offer.updated
type OfferUpdatedPayload struct {
	OfferID   string    `json:"offer_id"`
	Price     string    `json:"price,omitempty"` // Десятичная строка, как отдает маркетплейс
	Currency  string    `json:"currency,omitempty"`
	Published *bool     `json:"published,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryUpdatedPayload — тело событий inventory.updated / offer.inventory.updated
type InventoryUpdatedPayload struct {
	OfferID   string    `json:"offer_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}
