package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// WebhookHandler обработчик входящих вебхуков маркетплейса
type WebhookHandler struct {
	processor *services.WebhookProcessor
	logger    interfaces.LoggerPort
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(processor *services.WebhookProcessor, logger interfaces.LoggerPort) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// webhookRequest тело входящего вебхука
type webhookRequest struct {
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	Source          string          `json:"source,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// webhookResponse подтверждение приема события
type webhookResponse struct {
	Accepted  bool   `json:"accepted"`
	EventID   string `json:"event_id"`
	Processed bool   `json:"processed"`
}

// Receive принимает вебхук маркетплейса. Ответ 202 подтверждает только
// долговечный прием: ошибка обработчика фиксируется в событии и не
// возвращается источнику, повторная доставка дает тот же результат
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело запроса",
		})
		return
	}

	event, err := h.processor.ProcessEvent(r.Context(), req.ExternalEventID, req.EventType, req.Source, req.Payload)
	if err != nil {
		if errors.Is(err, utils.ErrEmptyExternalEventID) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "external_event_id обязателен",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка приема вебхука",
			interfaces.LogField{Key: "external_event_id", Value: req.ExternalEventID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка приема события",
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, webhookResponse{
		Accepted:  true,
		EventID:   event.ID,
		Processed: event.Processed,
	})
}

// Retry повторяет обработку ранее упавшего события
func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	if eventID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID события не указан",
		})
		return
	}

	event, err := h.processor.RetryEvent(r.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrEventNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Событие не найдено",
			})
		case errors.Is(err, utils.ErrEventAlreadyProcessed):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "Событие уже обработано",
			})
		default:
			h.logger.ErrorWithContext(r.Context(), "Ошибка повтора события",
				interfaces.LogField{Key: "event_id", Value: eventID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, errorResponse{
				Error:   "internal_error",
				Code:    http.StatusInternalServerError,
				Message: "Ошибка повтора события",
			})
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    event,
	})
}
