package services

import (
	"context"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyncService(repo *fakeRepo, mp *fakeMarketplace, jobTimeout time.Duration) *SyncService {
	cache := newFakeCache()
	resolver := NewConflictResolver()
	push := NewPushStrategy(repo, mp, cache, nopLogger{}, 4)
	pull := NewPullStrategy(repo, mp, cache, nopLogger{}, 4, 10)
	bidi := NewBidirectionalStrategy(repo, mp, resolver, push, pull, &fakeNotifier{}, nopLogger{}, 4)
	return NewSyncService(repo, push, pull, bidi, 100, jobTimeout, nopLogger{})
}

func TestRunSyncCompletesWithPartialErrors(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	addProduct(repo, "p1", "SKU-1", 5, true)
	addProduct(repo, "p2", "SKU-2", 7, true)

	// первый товар уже существует как оффер, второй упадет на создании
	offer, err := mp.CreateOffer(context.Background(), offerFromProduct(repo.products["p1"]))
	require.NoError(t, err)
	require.NoError(t, repo.SaveMirror(context.Background(), &models.OfferMirror{
		ProductID:     "p1",
		RemoteOfferID: offer.ID,
	}))
	mp.createErr = interfaces.ErrRateLimited

	svc := newSyncService(repo, mp, time.Minute)
	job, err := svc.RunSync(context.Background(), models.SyncTypeDBToMarket, 0)
	require.NoError(t, err)

	// частичные ошибки элементов не делают задание FAILED
	assert.Equal(t, models.SyncJobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedItems)
	assert.Equal(t, 1, job.SuccessfulItems)
	assert.Equal(t, 1, job.FailedItems)
	assert.Equal(t, job.ProcessedItems, job.SuccessfulItems+job.FailedItems)
	require.NotNil(t, job.CompletedAt)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "p2", job.Errors[0].ItemID)

	// итог задания сохранен
	stored, err := repo.GetSyncJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncJobStatusCompleted, stored.Status)
}

func TestRunSyncFailsOnFatalStrategyError(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	addProduct(repo, "p1", "SKU-1", 5, true)
	mp.createErr = interfaces.ErrUnauthorized

	svc := newSyncService(repo, mp, time.Minute)
	job, err := svc.RunSync(context.Background(), models.SyncTypeDBToMarket, 0)
	// фатальная ошибка стратегии поднимается до вызывающей стороны
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)

	require.NotNil(t, job)
	assert.Equal(t, models.SyncJobStatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
	require.NotNil(t, job.CompletedAt)
}

func TestRunSyncRejectsInvalidArgs(t *testing.T) {
	svc := newSyncService(newFakeRepo(), newFakeMarketplace(), time.Minute)

	_, err := svc.RunSync(context.Background(), models.SyncType("SIDEWAYS"), 0)
	assert.ErrorIs(t, err, utils.ErrInvalidSyncType)

	_, err = svc.RunSync(context.Background(), models.SyncTypeDBToMarket, -1)
	assert.ErrorIs(t, err, utils.ErrInvalidBatchSize)
}

// slowStrategy блокируется до истечения контекста
type slowStrategy struct{}

func (slowStrategy) Execute(ctx context.Context, batchSize int) (*models.SyncReport, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunSyncDeadlineGivesFailedJob(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	cache := newFakeCache()
	push := NewPushStrategy(repo, mp, cache, nopLogger{}, 4)
	svc := NewSyncService(repo, push, slowStrategy{}, slowStrategy{}, 100, 20*time.Millisecond, nopLogger{})

	job, err := svc.RunSync(context.Background(), models.SyncTypeMarketToDB, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NotNil(t, job)
	assert.Equal(t, models.SyncJobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "deadline")
	require.NotNil(t, job.CompletedAt)

	// итог записан несмотря на истекший дедлайн стратегии
	stored, err := repo.GetSyncJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncJobStatusFailed, stored.Status)
}

// quietStrategy дожидается истечения контекста и молча возвращает пустой
// отчет без ошибки
type quietStrategy struct{}

func (quietStrategy) Execute(ctx context.Context, batchSize int) (*models.SyncReport, error) {
	<-ctx.Done()
	return &models.SyncReport{}, nil
}

func TestRunSyncExpiredContextFailsJobEvenWithoutStrategyError(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	cache := newFakeCache()
	push := NewPushStrategy(repo, mp, cache, nopLogger{}, 4)
	svc := NewSyncService(repo, push, quietStrategy{}, quietStrategy{}, 100, 20*time.Millisecond, nopLogger{})

	job, err := svc.RunSync(context.Background(), models.SyncTypeMarketToDB, 0)
	// прерванный прогон не может стать COMPLETED: его счетчики неполны
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NotNil(t, job)
	assert.Equal(t, models.SyncJobStatusFailed, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestRunSyncForProduct(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	addProduct(repo, "p1", "SKU-1", 5, true)

	svc := newSyncService(repo, mp, time.Minute)
	job, err := svc.RunSyncForProduct(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncTypeDBToMarket, job.Type)
	assert.Equal(t, "p1", job.ProductID)
	assert.Equal(t, models.SyncJobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Equal(t, 1, job.SuccessfulItems)

	// зеркало создано и остатки совпадают
	m, err := repo.GetMirror(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, m.Quantity)
}

func TestRunSyncForProductNotFound(t *testing.T) {
	svc := newSyncService(newFakeRepo(), newFakeMarketplace(), time.Minute)

	_, err := svc.RunSyncForProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, utils.ErrProductNotFound)
}

func TestListSyncJobsFilter(t *testing.T) {
	repo := newFakeRepo()
	mp := newFakeMarketplace()
	svc := newSyncService(repo, mp, time.Minute)

	_, err := svc.RunSync(context.Background(), models.SyncTypeDBToMarket, 0)
	require.NoError(t, err)
	_, err = svc.RunSync(context.Background(), models.SyncTypeMarketToDB, 0)
	require.NoError(t, err)

	syncType := models.SyncTypeDBToMarket
	jobs, total, err := svc.ListSyncJobs(context.Background(), models.SyncJobFilter{Type: &syncType}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.SyncTypeDBToMarket, jobs[0].Type)
}
