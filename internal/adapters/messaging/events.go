package messaging

// Команды, принимаемые воркером из топика sync-commands
const (
	CommandRunSync     = "run_sync"
	CommandSyncProduct = "sync_product"
)

// Типы уведомлений, публикуемых в топик sync-notifications
const (
	NotificationOrderCreated   = "order_created"
	NotificationManualConflict = "manual_conflict"
)
