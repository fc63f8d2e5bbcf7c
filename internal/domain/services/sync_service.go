package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	pkgutils "github.com/athebyme/gomarket-sync/pkg/utils"
	"github.com/google/uuid"
)

// SyncService оркестратор синхронизации: создает задание до любого I/O,
// запускает стратегию под дедлайном и финализирует задание ровно один раз.
// Перекрытие конкурентных запусков не предотвращается: стратегии и хранилище
// обязаны оставаться корректными при параллельной работе
type SyncService struct {
	repo             storage.Port
	strategies       map[models.SyncType]SyncStrategy
	push             *PushStrategy
	defaultBatchSize int
	jobTimeout       time.Duration
	logger           interfaces.LoggerPort
}

// NewSyncService создает новый SyncService
func NewSyncService(
	repo storage.Port,
	push *PushStrategy,
	pull SyncStrategy,
	bidirectional SyncStrategy,
	defaultBatchSize int,
	jobTimeout time.Duration,
	logger interfaces.LoggerPort,
) *SyncService {
	if defaultBatchSize < 1 {
		defaultBatchSize = 100
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &SyncService{
		repo: repo,
		strategies: map[models.SyncType]SyncStrategy{
			models.SyncTypeDBToMarket:    push,
			models.SyncTypeMarketToDB:    pull,
			models.SyncTypeBidirectional: bidirectional,
		},
		push:             push,
		defaultBatchSize: defaultBatchSize,
		jobTimeout:       jobTimeout,
		logger:           logger,
	}
}

// RunSync выполняет синхронизацию указанного типа и возвращает задание
// в конечном статусе. Частичные ошибки элементов не делают задание FAILED
func (s *SyncService) RunSync(ctx context.Context, syncType models.SyncType, batchSize int) (*models.SyncJob, error) {
	if !syncType.IsValid() {
		return nil, utils.ErrInvalidSyncType
	}
	if batchSize < 0 {
		return nil, utils.ErrInvalidBatchSize
	}
	if batchSize == 0 {
		batchSize = s.defaultBatchSize
	}

	strategy := s.strategies[syncType]

	job := &models.SyncJob{
		ID:        uuid.New().String(),
		Type:      syncType,
		Status:    models.SyncJobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	// задание фиксируется в хранилище до первого обращения к маркетплейсу
	if err := s.repo.CreateSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	err := s.execute(ctx, job, func(runCtx context.Context) (*models.SyncReport, error) {
		return strategy.Execute(runCtx, batchSize)
	})
	return job, err
}

// RunSyncForProduct пушит один товар как полноценное задание (batchSize=1)
func (s *SyncService) RunSyncForProduct(ctx context.Context, productID string) (*models.SyncJob, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, utils.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	job := &models.SyncJob{
		ID:        uuid.New().String(),
		Type:      models.SyncTypeDBToMarket,
		Status:    models.SyncJobStatusRunning,
		StartedAt: time.Now().UTC(),
		ProductID: productID,
	}
	if err := s.repo.CreateSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	err := s.execute(ctx, job, func(runCtx context.Context) (*models.SyncReport, error) {
		return s.push.SyncProduct(runCtx, productID)
	})
	return job, err
}

// execute запускает run под дедлайном задания, финализирует задание ровно
// один раз и возвращает фатальную ошибку прогона (nil при успехе), чтобы
// вызывающая сторона могла поднять ее дальше. Уже закоммиченные записи
// элементов при прерванном прогоне остаются в силе
func (s *SyncService) execute(ctx context.Context, job *models.SyncJob, run func(context.Context) (*models.SyncReport, error)) error {
	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	report, err := run(runCtx)
	now := time.Now().UTC()

	// прерванный контекст фатален, даже если стратегия вернула частичный
	// отчет без ошибки: счетчики такого прогона не покрывают весь батч
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("sync job deadline of %s exceeded: %w", s.jobTimeout, err)
		}
		if ferr := job.Fail(err.Error(), now); ferr != nil {
			s.logger.ErrorWithContext(ctx, "Недопустимый переход статуса задания",
				interfaces.LogField{Key: "job_id", Value: job.ID},
				interfaces.LogField{Key: "error", Value: ferr.Error()},
			)
			return err
		}
	} else {
		if cerr := job.Complete(report, now); cerr != nil {
			s.logger.ErrorWithContext(ctx, "Недопустимый переход статуса задания",
				interfaces.LogField{Key: "job_id", Value: job.ID},
				interfaces.LogField{Key: "error", Value: cerr.Error()},
			)
			return cerr
		}
	}

	// итог пишем родительским контекстом: дедлайн задания не должен мешать записи
	if uerr := s.repo.UpdateSyncJob(ctx, job); uerr != nil {
		s.logger.ErrorWithContext(ctx, "Не удалось сохранить итог задания синхронизации",
			interfaces.LogField{Key: "job_id", Value: job.ID},
			interfaces.LogField{Key: "error", Value: uerr.Error()},
		)
		if err == nil {
			return uerr
		}
		return err
	}

	s.logger.InfoWithContext(ctx, "Задание синхронизации завершено",
		interfaces.LogField{Key: "job_id", Value: job.ID},
		interfaces.LogField{Key: "type", Value: string(job.Type)},
		interfaces.LogField{Key: "status", Value: string(job.Status)},
		interfaces.LogField{Key: "processed", Value: job.ProcessedItems},
		interfaces.LogField{Key: "successful", Value: job.SuccessfulItems},
		interfaces.LogField{Key: "failed", Value: job.FailedItems},
		interfaces.LogField{Key: "needs_review", Value: job.NeedsReviewItems},
	)
	return err
}

// GetSyncJob возвращает задание по ID
func (s *SyncService) GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return s.repo.GetSyncJob(ctx, jobID)
}

// ListSyncJobs возвращает страницу заданий по фильтру
func (s *SyncService) ListSyncJobs(ctx context.Context, filter models.SyncJobFilter, pagination *pkgutils.Pagination) ([]*models.SyncJob, int64, error) {
	return s.repo.ListSyncJobs(ctx, filter, pagination)
}
