package interfaces

import (
	"context"
	"errors"

	"github.com/athebyme/gomarket-sync/pkg/models"
)

// Ошибки клиента маркетплейса. Стратегии синхронизации обязаны отличать
// повторяемые ошибки (сеть, rate limit) от фатальных (невалидная авторизация).
var (
	// ErrOfferNotFound возвращается, если оффер не существует на маркетплейсе
	ErrOfferNotFound = errors.New("marketplace: offer not found")

	// ErrOrderNotFound возвращается, если заказ не существует на маркетплейсе
	ErrOrderNotFound = errors.New("marketplace: order not found")

	// ErrRateLimited возвращается при превышении лимита запросов (повторяемая ошибка)
	ErrRateLimited = errors.New("marketplace: rate limited")

	// ErrUnauthorized возвращается при невалидной авторизации (фатальная ошибка)
	ErrUnauthorized = errors.New("marketplace: unauthorized")
)

// IsRetryable сообщает, можно ли считать ошибку клиента маркетплейса
// ошибкой уровня элемента (повторяемой). Ошибки авторизации фатальны.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized)
}

// MarketplaceClient определяет интерфейс для аутентифицированных вызовов
// к удаленному маркетплейсу. Ядро синхронизации зависит только от этого
// интерфейса, а не от конкретной реализации
type MarketplaceClient interface {
	// GetOffer получает оффер по его внешнему ID
	// Возвращает ErrOfferNotFound, если оффер не существует
	GetOffer(ctx context.Context, offerID string) (*models.RemoteOffer, error)

	// ListOffers постранично перечисляет офферы маркетплейса
	// Пустой cursor означает первую страницу; NextCursor == "" означает конец
	ListOffers(ctx context.Context, cursor string, limit int) (*models.RemoteOfferPage, error)

	// CreateOffer создает новый оффер и возвращает его серверное представление
	CreateOffer(ctx context.Context, offer *models.RemoteOffer) (*models.RemoteOffer, error)

	// UpdateOffer обновляет существующий оффер
	UpdateOffer(ctx context.Context, offerID string, offer *models.RemoteOffer) (*models.RemoteOffer, error)

	// GetOrder получает заказ по его внешнему ID
	GetOrder(ctx context.Context, orderID string) (*models.RemoteOrder, error)
}
