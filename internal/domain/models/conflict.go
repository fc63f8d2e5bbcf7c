package models

import "time"

// Resolution определяет исход сравнения локальной и удаленной версии сущности
type Resolution string

const (
	// ResolutionLocalWins — локальная версия выигрывает, изменения пушатся на маркетплейс
	ResolutionLocalWins Resolution = "LOCAL_WINS"
	// ResolutionRemoteWins — удаленная версия выигрывает, изменения забираются локально
	ResolutionRemoteWins Resolution = "REMOTE_WINS"
	// ResolutionManual — автоматическое разрешение невозможно, требуется оператор
	ResolutionManual Resolution = "MANUAL"
)

// ConflictRecord фиксирует результат сравнения версий одной сущности
// при двунаправленной синхронизации
type ConflictRecord struct {
	EntityID        string     `json:"entity_id"`
	LocalUpdatedAt  time.Time  `json:"local_updated_at"`
	RemoteUpdatedAt time.Time  `json:"remote_updated_at"`
	Resolution      Resolution `json:"resolution"`
	Reason          string     `json:"reason"`
}
