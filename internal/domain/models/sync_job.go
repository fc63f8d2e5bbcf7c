package models

import (
	"fmt"
	"time"
)

// SyncType определяет направление/политику синхронизации
type SyncType string

const (
	SyncTypeDBToMarket    SyncType = "DB_TO_MARKET"
	SyncTypeMarketToDB    SyncType = "MARKET_TO_DB"
	SyncTypeBidirectional SyncType = "BIDIRECTIONAL"
)

// IsValid проверяет корректность типа синхронизации
func (t SyncType) IsValid() bool {
	switch t {
	case SyncTypeDBToMarket, SyncTypeMarketToDB, SyncTypeBidirectional:
		return true
	default:
		return false
	}
}

// SyncJobStatus определяет статус задания синхронизации.
// Переходы строго монотонны: PENDING -> RUNNING -> COMPLETED|FAILED
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "PENDING"
	SyncJobStatusRunning   SyncJobStatus = "RUNNING"
	SyncJobStatusCompleted SyncJobStatus = "COMPLETED"
	SyncJobStatusFailed    SyncJobStatus = "FAILED"
)

// IsTerminal сообщает, является ли статус конечным
func (s SyncJobStatus) IsTerminal() bool {
	return s == SyncJobStatusCompleted || s == SyncJobStatusFailed
}

// rank задает порядок статусов для проверки монотонности переходов
func (s SyncJobStatus) rank() int {
	switch s {
	case SyncJobStatusPending:
		return 0
	case SyncJobStatusRunning:
		return 1
	case SyncJobStatusCompleted, SyncJobStatusFailed:
		return 2
	default:
		return -1
	}
}

// SyncItemError описывает ошибку обработки одного элемента батча
type SyncItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// SyncJob представляет одно выполнение стратегии синхронизации.
// Инвариант: после завершения ProcessedItems == SuccessfulItems + FailedItems
type SyncJob struct {
	ID               string          `json:"id"`
	Type             SyncType        `json:"type"`
	Status           SyncJobStatus   `json:"status"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"` // Заполнен только в конечном статусе
	TotalItems       int             `json:"total_items"`
	ProcessedItems   int             `json:"processed_items"`
	SuccessfulItems  int             `json:"successful_items"`
	FailedItems      int             `json:"failed_items"`
	NeedsReviewItems int             `json:"needs_review_items"`
	Errors           []SyncItemError `json:"errors,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	// ProductID заполнен для заданий по одному товару (batchSize=1)
	ProductID string `json:"product_id,omitempty"`
}

// transition переводит задание в новый статус с проверкой монотонности
func (j *SyncJob) transition(to SyncJobStatus) error {
	if to.rank() <= j.Status.rank() {
		return fmt.Errorf("недопустимый переход статуса задания: %s -> %s", j.Status, to)
	}
	j.Status = to
	return nil
}

// Complete финализирует задание результатом стратегии.
// Частичные ошибки элементов не мешают заданию считаться COMPLETED
func (j *SyncJob) Complete(report *SyncReport, at time.Time) error {
	if err := j.transition(SyncJobStatusCompleted); err != nil {
		return err
	}
	j.TotalItems = report.Processed
	j.ProcessedItems = report.Processed
	j.SuccessfulItems = report.Successful
	j.FailedItems = report.Failed
	j.NeedsReviewItems = report.NeedsReview
	j.Errors = report.Errors
	j.CompletedAt = &at
	return nil
}

// Fail финализирует задание как проваленное целиком (ошибка вне цикла по элементам)
func (j *SyncJob) Fail(message string, at time.Time) error {
	if err := j.transition(SyncJobStatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = message
	j.CompletedAt = &at
	return nil
}

// SyncReport агрегирует результаты одного выполнения стратегии.
// Processed всегда равен Successful + Failed; элементы MANUAL учитываются
// в отдельной корзине NeedsReview и не считаются ни успехом, ни ошибкой
type SyncReport struct {
	Processed   int              `json:"processed"`
	Successful  int              `json:"successful"`
	Failed      int              `json:"failed"`
	NeedsReview int              `json:"needs_review"`
	Errors      []SyncItemError  `json:"errors,omitempty"`
	Conflicts   []ConflictRecord `json:"conflicts,omitempty"`
}

// SyncJobFilter определяет критерии выборки заданий синхронизации
type SyncJobFilter struct {
	Type   *SyncType      `json:"type,omitempty"`
	Status *SyncJobStatus `json:"status,omitempty"`
}
