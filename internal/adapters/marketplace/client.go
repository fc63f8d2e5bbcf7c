package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/models"
)

// Client реализация MarketplaceClient поверх REST API маркетплейса.
// Аутентификация — bearer-токен, выдаваемый внешним token provider
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     interfaces.LoggerPort
}

// NewClient создает новый клиент API маркетплейса
func NewClient(baseURL, apiToken string, requestTimeout time.Duration, logger interfaces.LoggerPort) *Client {
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

// doRequest выполняет запрос к API маркетплейса и декодирует ответ в out.
// Коды ошибок API отображаются на сентинельные ошибки пакета interfaces
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка сериализации тела запроса: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к маркетплейсу: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// продолжаем декодирование
	case resp.StatusCode == http.StatusNotFound:
		return interfaces.ErrOfferNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return interfaces.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return interfaces.ErrUnauthorized
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("маркетплейс вернул статус %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа маркетплейса: %w", err)
	}
	return nil
}

// GetOffer получает оффер по его внешнему ID
func (c *Client) GetOffer(ctx context.Context, offerID string) (*models.RemoteOffer, error) {
	var offer models.RemoteOffer
	if err := c.doRequest(ctx, http.MethodGet, "/v1/offers/"+url.PathEscape(offerID), nil, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// ListOffers постранично перечисляет офферы маркетплейса
func (c *Client) ListOffers(ctx context.Context, cursor string, limit int) (*models.RemoteOfferPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var page models.RemoteOfferPage
	if err := c.doRequest(ctx, http.MethodGet, "/v1/offers?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateOffer создает новый оффер на маркетплейсе
func (c *Client) CreateOffer(ctx context.Context, offer *models.RemoteOffer) (*models.RemoteOffer, error) {
	var created models.RemoteOffer
	if err := c.doRequest(ctx, http.MethodPost, "/v1/offers", offer, &created); err != nil {
		return nil, err
	}
	c.logger.DebugWithContext(ctx, "Оффер создан на маркетплейсе",
		interfaces.LogField{Key: "offer_id", Value: created.ID},
		interfaces.LogField{Key: "sku", Value: created.SKU},
	)
	return &created, nil
}

// UpdateOffer обновляет существующий оффер
func (c *Client) UpdateOffer(ctx context.Context, offerID string, offer *models.RemoteOffer) (*models.RemoteOffer, error) {
	var updated models.RemoteOffer
	if err := c.doRequest(ctx, http.MethodPut, "/v1/offers/"+url.PathEscape(offerID), offer, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetOrder получает заказ по его внешнему ID
func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.RemoteOrder, error) {
	var order models.RemoteOrder
	if err := c.doRequest(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		if err == interfaces.ErrOfferNotFound {
			return nil, interfaces.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
