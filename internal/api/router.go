package api

import (
	"net/http"
	"time"

	"github.com/athebyme/gomarket-sync/internal/api/handlers"
	"github.com/athebyme/gomarket-sync/internal/api/middleware"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/security"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	syncService *services.SyncService,
	webhookProcessor *services.WebhookProcessor,
	logger interfaces.LoggerPort,
	corsAllowedOrigins []string,
	jwtManager *security.JWTManager,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(corsAllowedOrigins))
	r.Use(middleware.Tracing)

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	syncHandler := handlers.NewSyncHandler(syncService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookProcessor, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Маршруты синхронизации требуют авторизации оператора
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtManager, logger))

			r.Route("/sync", func(r chi.Router) {
				r.Post("/jobs", syncHandler.RunSync)
				r.Get("/jobs", syncHandler.ListSyncJobs)
				r.Get("/jobs/{id}", syncHandler.GetSyncJob)
				r.Post("/products/{id}", syncHandler.SyncProduct)
			})

			r.Post("/webhooks/events/{id}/retry", webhookHandler.Retry)
		})

		// Прием вебхуков аутентифицируется на шлюзе, не здесь
		r.Post("/webhooks/marketplace", webhookHandler.Receive)
	})

	return r
}
