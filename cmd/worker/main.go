package main

import (
	"context"
	"encoding/json"
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
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики для Prometheus
var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_processed_total",
		Help: "Общее количество обработанных сообщений",
	}, []string{"topic", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_processing_duration_seconds",
		Help:    "Длительность обработки сообщений",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
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
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	// Генерируем строку подключения к PostgreSQL
	connectionStr, err := utils.GenerateConnectionString(
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
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := pgxpool.New(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка создания пула соединений",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	repo, err := storage.NewPostgresStorageWithPool(ctx, pool)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer repo.Close()
	log.Info("Хранилище инициализировано")

	// Инициализируем кэш
	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	// Инициализируем систему обмена сообщениями
	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	// Создаем отсутствующие топики
	topics := []string{
		cfg.Kafka.EventsTopic,
		cfg.Kafka.CommandsTopic,
		cfg.Kafka.NotificationsTopic,
		cfg.Kafka.DeadLetterTopic,
	}
	if err := messagingClient.EnsureTopics(ctx, topics, 3); err != nil {
		log.Warn("Не удалось создать топики",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	marketplaceClient := marketplace.NewClient(
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.APIToken,
		cfg.Marketplace.RequestTimeout,
		log,
	)

	txManager := tx.NewTxManager(pool, log)
	notifierClient := notifier.NewKafkaNotifier(messagingClient, cfg.Kafka.NotificationsTopic, log)

	resolver := services.NewConflictResolver()
	pushStrategy := services.NewPushStrategy(repo, marketplaceClient, cacheClient, log, cfg.Sync.WorkerCount)
	pullStrategy := services.NewPullStrategy(repo, marketplaceClient, cacheClient, log, cfg.Sync.WorkerCount, cfg.Marketplace.PageSize)
	bidirectionalStrategy := services.NewBidirectionalStrategy(
		repo, marketplaceClient, resolver, pushStrategy, pullStrategy, notifierClient, log, cfg.Sync.WorkerCount,
	)

	syncService := services.NewSyncService(
		repo, pushStrategy, pullStrategy, bidirectionalStrategy,
		cfg.Sync.DefaultBatchSize, cfg.Sync.JobTimeout, log,
	)
	webhookProcessor := services.NewWebhookProcessor(repo, txManager, cacheClient, notifierClient, log)
	log.Info("Сервисы синхронизации инициализированы")

	// Каналы для сигналов и завершения
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Подписываемся на события маркетплейса и команды синхронизации
	unsubscribeEvents, err := messagingClient.Subscribe(ctx, cfg.Kafka.EventsTopic,
		marketplaceEventHandler(webhookProcessor, cfg.Kafka.EventsTopic, log))
	if err != nil {
		log.Fatal("Ошибка подписки на события маркетплейса",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	unsubscribeCommands, err := messagingClient.Subscribe(ctx, cfg.Kafka.CommandsTopic,
		syncCommandHandler(syncService, cfg.Kafka.CommandsTopic, log))
	if err != nil {
		log.Fatal("Ошибка подписки на команды синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// Обработка сигналов завершения
	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		if err := unsubscribeEvents(); err != nil {
			log.Error("Ошибка отписки от событий",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
		if err := unsubscribeCommands(); err != nil {
			log.Error("Ошибка отписки от команд",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		cancel()
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке сообщений")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// marketplaceEvent формат сообщения в топике событий маркетплейса.
// Контракт совпадает с HTTP-вебхуком: ретранслятор шлет то же тело
type marketplaceEvent struct {
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	Source          string          `json:"source,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// marketplaceEventHandler обрабатывает ретранслированные вебхуки маркетплейса.
// Ошибка возвращается только для недекодируемых сообщений и сбоев хранилища:
// такие сообщения уходят в dead-letter топик. Ошибки обработчиков событий
// фиксируются в самом событии и повторяются через RetryEvent
func marketplaceEventHandler(processor *services.WebhookProcessor, topic string, logger interfaces.LoggerPort) interfaces.MessageHandler {
	return func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()
		defer func() {
			messageProcessingDuration.WithLabelValues(topic).Observe(time.Since(startTime).Seconds())
		}()

		var event marketplaceEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования события маркетплейса",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(topic, "error").Inc()
			return err
		}

		if _, err := processor.ProcessEvent(ctx, event.ExternalEventID, event.EventType, event.Source, event.Payload); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка приема события маркетплейса",
				interfaces.LogField{Key: "external_event_id", Value: event.ExternalEventID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(topic, "error").Inc()
			return err
		}

		messagesProcessed.WithLabelValues(topic, "success").Inc()
		return nil
	}
}

// syncCommand формат сообщения в топике команд синхронизации
type syncCommand struct {
	CommandType string `json:"command_type"`
	SyncType    string `json:"sync_type,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
}

// syncCommandHandler обрабатывает команды запуска синхронизации
func syncCommandHandler(syncService *services.SyncService, topic string, logger interfaces.LoggerPort) interfaces.MessageHandler {
	return func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()
		defer func() {
			messageProcessingDuration.WithLabelValues(topic).Observe(time.Since(startTime).Seconds())
		}()

		var command syncCommand
		if err := json.Unmarshal(msg.Value, &command); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(topic, "error").Inc()
			return err
		}

		var err error
		switch command.CommandType {
		case messaging.CommandRunSync:
			_, err = syncService.RunSync(ctx, models.SyncType(command.SyncType), command.BatchSize)
		case messaging.CommandSyncProduct:
			_, err = syncService.RunSyncForProduct(ctx, command.ProductID)
		default:
			logger.WarnWithContext(ctx, "Неизвестный тип команды",
				interfaces.LogField{Key: "command_type", Value: command.CommandType})
			messagesProcessed.WithLabelValues(topic, "skipped").Inc()
			return nil
		}

		if err != nil {
			logger.ErrorWithContext(ctx, "Ошибка выполнения команды синхронизации",
				interfaces.LogField{Key: "command_type", Value: command.CommandType},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(topic, "error").Inc()
			return err
		}

		messagesProcessed.WithLabelValues(topic, "success").Inc()
		return nil
	}
}
