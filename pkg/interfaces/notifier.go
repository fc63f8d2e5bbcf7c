package interfaces

import "context"

// NotifierPort определяет интерфейс для отправки уведомлений оператору.
// Отправка выполняется по принципу fire-and-forget: ошибки уведомления
// не должны проваливать обработку события, которое его породило
type NotifierPort interface {
	// Notify отправляет уведомление указанного типа
	Notify(ctx context.Context, kind string, payload map[string]interface{}) error
}
