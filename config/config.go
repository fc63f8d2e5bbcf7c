package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
	}

	Kafka struct {
		Brokers            []string `mapstructure:"brokers"`
		GroupID            string   `mapstructure:"group_id"`
		EventsTopic        string   `mapstructure:"events_topic"`        // входящие события маркетплейса
		CommandsTopic      string   `mapstructure:"commands_topic"`      // команды запуска синхронизации
		NotificationsTopic string   `mapstructure:"notifications_topic"` // уведомления оператору
		DeadLetterTopic    string   `mapstructure:"dead_letter_topic"`
	}

	Marketplace struct {
		BaseURL        string        // базовый URL API маркетплейса
		APIToken       string        // bearer-токен (выдается внешним token provider)
		RequestTimeout time.Duration // таймаут одного запроса
		PageSize       int           // размер страницы при листинге офферов
	}

	Sync struct {
		DefaultBatchSize int           // размер батча по умолчанию
		WorkerCount      int           // размер пула воркеров на батч
		JobTimeout       time.Duration // дедлайн одного задания синхронизации
	}

	Metrics struct {
		Enabled bool
		Port    int `mapstructure:"port"`
	}

	Security struct {
		JWTSecret        string
		CORSAllowOrigins []string
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	setDefaults()
	bindEnvVariables()

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "gomarket-sync")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "gomarket_sync")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "gomarket-sync")
	viper.SetDefault("kafka.events_topic", "marketplace-events")
	viper.SetDefault("kafka.commands_topic", "sync-commands")
	viper.SetDefault("kafka.notifications_topic", "sync-notifications")
	viper.SetDefault("kafka.dead_letter_topic", "gomarket-sync-dlq")

	// Настройки маркетплейса
	viper.SetDefault("marketplace.baseURL", "https://api.marketplace.local")
	viper.SetDefault("marketplace.requestTimeout", "15s")
	viper.SetDefault("marketplace.pageSize", 100)

	// Настройки синхронизации
	viper.SetDefault("sync.defaultBatchSize", 100)
	viper.SetDefault("sync.workerCount", 4)
	viper.SetDefault("sync.jobTimeout", "10m")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	viper.SetDefault("security.jwtSecret", "")
	viper.SetDefault("security.corsAllowOrigins", []string{"*"})
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.events_topic", "KAFKA_EVENTS_TOPIC")
	viper.BindEnv("kafka.commands_topic", "KAFKA_COMMANDS_TOPIC")
	viper.BindEnv("kafka.notifications_topic", "KAFKA_NOTIFICATIONS_TOPIC")
	viper.BindEnv("kafka.dead_letter_topic", "KAFKA_DEAD_LETTER_TOPIC")

	// Настройки маркетплейса
	viper.BindEnv("marketplace.baseURL", "MARKETPLACE_BASE_URL")
	viper.BindEnv("marketplace.apiToken", "MARKETPLACE_API_TOKEN")
	viper.BindEnv("marketplace.requestTimeout", "MARKETPLACE_REQUEST_TIMEOUT")
	viper.BindEnv("marketplace.pageSize", "MARKETPLACE_PAGE_SIZE")

	// Настройки синхронизации
	viper.BindEnv("sync.defaultBatchSize", "SYNC_DEFAULT_BATCH_SIZE")
	viper.BindEnv("sync.workerCount", "SYNC_WORKER_COUNT")
	viper.BindEnv("sync.jobTimeout", "SYNC_JOB_TIMEOUT")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	viper.BindEnv("security.jwtSecret", "JWT_SECRET")
	viper.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")
}
