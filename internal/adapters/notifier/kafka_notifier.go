package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/google/uuid"
)

// KafkaNotifier публикует уведомления оператору в отдельный топик.
// Уведомления отправляются fire-and-forget: ошибка доставки логируется,
// но никогда не влияет на результат вызывающей операции
type KafkaNotifier struct {
	messaging interfaces.MessagingPort
	topic     string
	logger    interfaces.LoggerPort
}

// NewKafkaNotifier создает новый KafkaNotifier
func NewKafkaNotifier(messaging interfaces.MessagingPort, topic string, logger interfaces.LoggerPort) *KafkaNotifier {
	return &KafkaNotifier{
		messaging: messaging,
		topic:     topic,
		logger:    logger,
	}
}

// notification формат сообщения в топике уведомлений
type notification struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notify отправляет уведомление указанного типа
func (n *KafkaNotifier) Notify(ctx context.Context, kind string, payload map[string]interface{}) error {
	msg := notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}

	if err := n.messaging.PublishWithKey(ctx, n.topic, kind, data); err != nil {
		n.logger.WarnWithContext(ctx, "Не удалось отправить уведомление",
			interfaces.LogField{Key: "kind", Value: kind},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return err
	}
	return nil
}
