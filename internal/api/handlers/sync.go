package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	pkgutils "github.com/athebyme/gomarket-sync/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// SyncHandler обработчик запросов синхронизации
type SyncHandler struct {
	syncService *services.SyncService
	logger      interfaces.LoggerPort
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(syncService *services.SyncService, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// runSyncRequest тело запроса на запуск синхронизации
type runSyncRequest struct {
	Type      models.SyncType `json:"type"`
	BatchSize int             `json:"batch_size,omitempty"`
}

// RunSync обрабатывает запрос на запуск синхронизации
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req runSyncRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело запроса",
		})
		return
	}

	job, err := h.syncService.RunSync(r.Context(), req.Type, req.BatchSize)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidSyncType) || errors.Is(err, utils.ErrInvalidBatchSize) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка запуска синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка запуска синхронизации",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    job,
	})
}

// SyncProduct обрабатывает запрос на синхронизацию одного товара
func (h *SyncHandler) SyncProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	if productID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID товара не указан",
		})
		return
	}

	job, err := h.syncService.RunSyncForProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, utils.ErrProductNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Товар не найден",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка синхронизации товара",
			interfaces.LogField{Key: "product_id", Value: productID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка синхронизации товара",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    job,
	})
}

// GetSyncJob обрабатывает запрос на получение задания по ID
func (h *SyncHandler) GetSyncJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID задания не указан",
		})
		return
	}

	job, err := h.syncService.GetSyncJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, utils.ErrJobNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Задание не найдено",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения задания",
			interfaces.LogField{Key: "job_id", Value: jobID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения задания",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    job,
	})
}

// ListSyncJobs обрабатывает запрос на получение списка заданий
func (h *SyncHandler) ListSyncJobs(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var filter models.SyncJobFilter
	if t := r.URL.Query().Get("type"); t != "" {
		syncType := models.SyncType(t)
		if !syncType.IsValid() {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "Некорректный тип синхронизации",
			})
			return
		}
		filter.Type = &syncType
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := models.SyncJobStatus(s)
		filter.Status = &status
	}

	pagination := pkgutils.NewPagination(page, pageSize, "started_at", true)

	jobs, total, err := h.syncService.ListSyncJobs(r.Context(), filter, pagination)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения списка заданий",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения списка заданий",
		})
		return
	}

	pagination.SetTotal(total)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    jobs,
		Meta:    pagination,
	})
}
