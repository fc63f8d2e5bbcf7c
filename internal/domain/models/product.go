package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product представляет товар локального каталога — ту сторону
// синхронизации, которую редактируют продавцы
type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Stock     int             `json:"stock"`
	Published bool            `json:"published"`
	// Dirty выставляется при локальном изменении и снимается после успешного
	// пуша на маркетплейс. Выборка push-стратегии идет по этому флагу
	Dirty     bool      `json:"dirty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferMirror представляет локальную копию состояния оффера маркетплейса,
// связанную с товаром каталога 1:1 (или 1:0, пока оффер не создан).
// Это единственная сущность с двумя писателями: стратегии синхронизации
// и обработчики вебхуков
type OfferMirror struct {
	ProductID     string          `json:"product_id"`
	RemoteOfferID string          `json:"remote_offer_id"` // Уникален среди всех зеркал
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Published     bool            `json:"published"`
	// RemoteRevision хранит последнюю известную ревизию удаленной стороны
	// (токен ревизии или updated_at), чтобы pull-стратегия могла пропускать
	// неизмененные офферы
	RemoteRevision  string     `json:"remote_revision,omitempty"`
	RemoteUpdatedAt time.Time  `json:"remote_updated_at"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	// Version — локальный счетчик версий для условных обновлений (compare-and-set),
	// защищает от потерянных обновлений между pull и конкурентным вебхуком
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
