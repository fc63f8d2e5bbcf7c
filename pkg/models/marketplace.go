package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RemoteOffer представляет оффер в том виде, в котором его отдает маркетплейс.
// Это граница системы: данные валидируются при входе и не несут
// внутренних идентификаторов каталога
type RemoteOffer struct {
	ID        string          `json:"id"`                 // ID в системе маркетплейса
	SKU       string          `json:"sku"`                // Артикул, связывающий оффер с локальным товаром
	Title     string          `json:"title"`              // Название листинга
	Price     decimal.Decimal `json:"price"`              // Цена на маркетплейсе
	Currency  string          `json:"currency"`           // Валюта цены (ISO 4217)
	Quantity  int             `json:"quantity"`           // Остаток на маркетплейсе
	Published bool            `json:"published"`          // Опубликован ли листинг
	Revision  string          `json:"revision,omitempty"` // Токен ревизии, если маркетплейс его отдает
	UpdatedAt time.Time       `json:"updated_at"`         // Время последнего изменения на стороне маркетплейса
}

// RemoteOfferPage представляет одну страницу листинга офферов
type RemoteOfferPage struct {
	Offers     []*RemoteOffer `json:"offers"`
	NextCursor string         `json:"next_cursor,omitempty"` // Пустая строка — страниц больше нет
}

// RemoteOrderLine представляет позицию заказа на маркетплейсе
type RemoteOrderLine struct {
	OfferID  string          `json:"offer_id"`
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// RemoteOrder представляет заказ покупателя на маркетплейсе.
// Маркетплейс — источник истины для заказов
type RemoteOrder struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Lines     []*RemoteOrderLine `json:"lines"`
	Total     decimal.Decimal    `json:"total"`
	Currency  string             `json:"currency"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}
