package interfaces

import (
	"context"
	"time"
)

// Message представляет сообщение в системе
type Message struct {
	ID          string            `json:"id"`           // Уникальный ID сообщения
	Topic       string            `json:"topic"`        // Тема сообщения
	Key         string            `json:"key"`          // Ключ сообщения (опционально)
	Value       []byte            `json:"value"`        // Содержимое сообщения
	Headers     map[string]string `json:"headers"`      // Заголовки сообщения
	PublishedAt time.Time         `json:"published_at"` // Время публикации
	Attempts    int               `json:"attempts"`     // Число попыток доставки
}

// MessageHandler определяет функцию обработчика сообщений
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig содержит настройки для подписчика на сообщения
type ConsumerConfig struct {
	GroupID            string        // ID группы потребителей
	AutoCommit         bool          // Автоматически подтверждать полученные сообщения
	AutoCommitInterval time.Duration // Интервал автоматического подтверждения
	PollTimeout        time.Duration // Таймаут для опроса новых сообщений
}

// MessagingPort определяет интерфейс для системы обмена сообщениями
type MessagingPort interface {
	// Publish публикует сообщение в указанную тему
	Publish(ctx context.Context, topic string, message []byte) error

	// PublishWithKey публикует сообщение с указанным ключом партиционирования
	PublishWithKey(ctx context.Context, topic string, key string, message []byte) error

	// Subscribe подписывается на указанную тему и обрабатывает сообщения с помощью handler
	// Возвращает функцию отмены подписки
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (func() error, error)

	// Close закрывает соединение с системой обмена сообщениями
	Close() error
}
