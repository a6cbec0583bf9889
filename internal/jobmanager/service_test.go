package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
	"github.com/aristath/dividend-ingest/internal/store/storetest"
)

func newService() (*Service, *storetest.Fake) {
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gw.Now = clk.Now
	return New(gw, clk), gw
}

func TestService_CreateJob(t *testing.T) {
	svc, gw := newService()

	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.Total)

	depth, err := gw.QueueDepthForJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestService_Cancel(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), job.ID))

	got, err := gw.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	depth, err := gw.QueueDepthForJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestService_Cancel_NonPendingConflicts(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, gw.TransitionJobProcessing(context.Background(), job.ID))

	err = svc.Cancel(context.Background(), job.ID)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestService_AdvanceJob_RejectsNegativeDeltas(t *testing.T) {
	svc, _ := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	err = svc.AdvanceJob(context.Background(), job.ID, -1, 0)
	assert.True(t, apperr.Is(err, apperr.Validation))

	err = svc.AdvanceJob(context.Background(), job.ID, 0, -1)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestService_AdvanceJob_AccumulatesCounters(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT", "GOOG"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	require.NoError(t, svc.AdvanceJob(context.Background(), job.ID, 1, 0))
	require.NoError(t, svc.AdvanceJob(context.Background(), job.ID, 1, 1))

	got, err := gw.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 0, got.Remaining())
}

func TestService_MarkProcessing(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	require.NoError(t, svc.MarkProcessing(context.Background(), job.ID))

	got, err := gw.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestService_DrainIfEmpty(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, svc.MarkProcessing(context.Background(), job.ID))

	// queue still has one item: draining must be a no-op.
	require.NoError(t, svc.DrainIfEmpty(context.Background(), job.ID))
	got, err := gw.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	// complete the lone item, queue goes empty, drain now transitions.
	require.NoError(t, svc.AdvanceJob(context.Background(), job.ID, 1, 0))
	for id := range gw.Queue {
		delete(gw.Queue, id)
	}
	require.NoError(t, svc.DrainIfEmpty(context.Background(), job.ID))

	got, err = gw.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestService_Progress(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT", "GOOG", "AMZN"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AdvanceJob(context.Background(), job.ID, 1, 1))

	// lease two of the remaining three items so queue depth is 2, not 4.
	leased, err := gw.LeaseQueueItems(context.Background(), 2, "worker-1")
	require.NoError(t, err)
	for _, item := range leased {
		require.NoError(t, gw.CompleteItem(context.Background(), item.ID))
	}

	progress, err := svc.Progress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 1, progress.Processed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 2, progress.Remaining)
	assert.InDelta(t, 50.0, progress.PercentComplete, 0.001)
	assert.Equal(t, "~24s", progress.ETA)
	assert.Equal(t, 0, progress.Processing, "leased items were completed, none still locked")
}

func TestService_Progress_ReportsLockedItemsAsProcessing(t *testing.T) {
	svc, gw := newService()
	job, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	// lease one item but leave it uncompleted, as a worker mid-fetch would.
	_, err = gw.LeaseQueueItems(context.Background(), 1, "worker-1")
	require.NoError(t, err)

	progress, err := svc.Progress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Remaining)
	assert.Equal(t, 1, progress.Processing)
}

func TestService_ListJobs(t *testing.T) {
	svc, _ := newService()
	_, err := svc.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	_, err = svc.CreateJob(context.Background(), domain.JobTypeTickerSync, []string{"MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	jobs, err := svc.ListJobs(context.Background(), store.JobFilter{JobType: string(domain.JobTypeTickerSync)})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobTypeTickerSync, jobs[0].Type)
}
