package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncJobCompleteInvariant(t *testing.T) {
	job := &SyncJob{
		ID:        "j1",
		Type:      SyncTypeDBToMarket,
		Status:    SyncJobStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	report := &SyncReport{
		Processed:   5,
		Successful:  3,
		Failed:      2,
		NeedsReview: 1,
		Errors: []SyncItemError{
			{ItemID: "p1", Message: "rate limited"},
			{ItemID: "p2", Message: "rate limited"},
		},
	}

	now := time.Now().UTC()
	require.NoError(t, job.Complete(report, now))

	assert.Equal(t, SyncJobStatusCompleted, job.Status)
	assert.Equal(t, job.ProcessedItems, job.SuccessfulItems+job.FailedItems)
	assert.Equal(t, 1, job.NeedsReviewItems)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, now, *job.CompletedAt)
}

func TestSyncJobFail(t *testing.T) {
	job := &SyncJob{Status: SyncJobStatusRunning}

	now := time.Now().UTC()
	require.NoError(t, job.Fail("deadline exceeded", now))

	assert.Equal(t, SyncJobStatusFailed, job.Status)
	assert.Equal(t, "deadline exceeded", job.ErrorMessage)
	require.NotNil(t, job.CompletedAt)
}

func TestSyncJobStatusMonotonic(t *testing.T) {
	job := &SyncJob{Status: SyncJobStatusRunning}
	require.NoError(t, job.Complete(&SyncReport{}, time.Now().UTC()))

	// из конечного статуса выхода нет
	assert.Error(t, job.Fail("late failure", time.Now().UTC()))
	assert.Error(t, job.Complete(&SyncReport{}, time.Now().UTC()))
	assert.Equal(t, SyncJobStatusCompleted, job.Status)
}

func TestSyncJobStatusTerminal(t *testing.T) {
	assert.False(t, SyncJobStatusPending.IsTerminal())
	assert.False(t, SyncJobStatusRunning.IsTerminal())
	assert.True(t, SyncJobStatusCompleted.IsTerminal())
	assert.True(t, SyncJobStatusFailed.IsTerminal())
}

func TestSyncTypeIsValid(t *testing.T) {
	assert.True(t, SyncTypeDBToMarket.IsValid())
	assert.True(t, SyncTypeMarketToDB.IsValid())
	assert.True(t, SyncTypeBidirectional.IsValid())
	assert.False(t, SyncType("SIDEWAYS").IsValid())
}
