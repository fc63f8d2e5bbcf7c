package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/cache"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/notifier"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/api"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/security"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// метрики для Prometheus
var (
	httpDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_durations_seconds",
		Help:    "Длительность HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Общее количество HTTP запросов",
	}, []string{"path", "method", "status"})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_active_requests",
		Help: "Количество активных HTTP запросов",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	postgresCon, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		fmt.Printf("Ошибка инициализации строки подключения базы: %v\n", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка создания пула соединений", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	db, err := storage.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer db.Close()
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := db.Ping(testCtx); err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с PostgreSQL проверено")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	if err := checkRedisConnection(testCtx, cacheClient); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с Redis проверено")

	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	marketplaceClient := marketplace.NewClient(
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.APIToken,
		cfg.Marketplace.RequestTimeout,
		log,
	)

	txManager := tx.NewTxManager(pool, log)
	notifierClient := notifier.NewKafkaNotifier(messagingClient, cfg.Kafka.NotificationsTopic, log)

	resolver := services.NewConflictResolver()
	pushStrategy := services.NewPushStrategy(db, marketplaceClient, cacheClient, log, cfg.Sync.WorkerCount)
	pullStrategy := services.NewPullStrategy(db, marketplaceClient, cacheClient, log, cfg.Sync.WorkerCount, cfg.Marketplace.PageSize)
	bidirectionalStrategy := services.NewBidirectionalStrategy(
		db, marketplaceClient, resolver, pushStrategy, pullStrategy, notifierClient, log, cfg.Sync.WorkerCount,
	)

	syncService := services.NewSyncService(
		db, pushStrategy, pullStrategy, bidirectionalStrategy,
		cfg.Sync.DefaultBatchSize, cfg.Sync.JobTimeout, log,
	)
	webhookProcessor := services.NewWebhookProcessor(db, txManager, cacheClient, notifierClient, log)
	log.Info("Сервисы синхронизации инициализированы")

	jwtManager := security.NewJWTManager(cfg.Security.JWTSecret)

	router := api.SetupRouter(syncService, webhookProcessor, log, cfg.Security.CORSAllowOrigins, jwtManager)
	router.Handle("/metrics", promhttp.Handler())
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metricsMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		log.Info("HTTP сервер остановлен")

		log.Info("Закрытие соединений с зависимостями...")

		if err := messagingClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Kafka",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := db.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	// Ожидаем завершения работы
	<-done
	log.Info("Сервер корректно завершил работу")
}

// metricsMiddleware снимает метрики HTTP запросов
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeRequests.Inc()
		defer activeRequests.Dec()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		status := fmt.Sprintf("%d", ww.status)
		httpDurations.WithLabelValues(r.URL.Path, r.Method, status).Observe(time.Since(start).Seconds())
		requestsCounter.WithLabelValues(r.URL.Path, r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Проверка соединения с Redis
func checkRedisConnection(ctx context.Context, cacheClient interfaces.CachePort) error {
	testKey := "test:connection"
	testValue := []byte("test-value")

	if err := cacheClient.Set(ctx, testKey, testValue, 10*time.Second); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}

	value, err := cacheClient.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	if string(value) != string(testValue) {
		return fmt.Errorf("некорректное значение из Redis: получено %s, ожидалось %s",
			string(value), string(testValue))
	}

	if err := cacheClient.Delete(ctx, testKey); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}

	return nil
}
