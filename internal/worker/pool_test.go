package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/fetcher"
	"github.com/aristath/dividend-ingest/internal/jobmanager"
	"github.com/aristath/dividend-ingest/internal/ratebudget"
	"github.com/aristath/dividend-ingest/internal/store"
	"github.com/aristath/dividend-ingest/internal/store/storetest"
)

type harness struct {
	pool  *Pool
	gw    *storetest.Fake
	jobs  *jobmanager.Service
	clock *clock.Fixed
	calls int
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls++
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gw.Now = clk.Now
	budget := ratebudget.New(gw, clk)
	f := fetcher.New(fetcher.Config{BaseURL: srv.URL, APIKey: "test-key"}, budget, clk, zerolog.Nop())
	jobs := jobmanager.New(gw, clk)
	pool := New(gw, f, jobs, budget, clk, Config{WorkerID: "worker-test", BatchSize: 10}, zerolog.Nop())
	pool.ItemSleep = time.Millisecond

	h.pool, h.gw, h.jobs, h.clock = pool, gw, jobs, clk
	return h
}

func dividendPage(records ...map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]string, 0, len(records))
		results = append(results, records...)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}
}

func TestPool_Tick_FirstTimeIngest(t *testing.T) {
	h := newHarness(t, dividendPage(map[string]string{
		"ticker": "AAPL", "cash_amount": "0.25", "ex_dividend_date": "2026-03-01",
	}))

	job, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	h.gw.Tickers["AAPL"] = domain.Ticker{Symbol: "AAPL", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour), UpdateFrequencyHours: 24}

	result, err := h.pool.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Leased)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, h.calls)

	got, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	records, err := h.gw.ListDividends(context.Background(), "AAPL", store.DividendFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestPool_Tick_FreshnessCheckSkipsProviderCall(t *testing.T) {
	h := newHarness(t, dividendPage())

	_, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	recentUpdate := h.clock.Now().Add(-2 * time.Hour)
	h.gw.Tickers["MSFT"] = domain.Ticker{Symbol: "MSFT", IsActive: true, LastDividendUpdate: &recentUpdate, UpdateFrequencyHours: 24}

	result, err := h.pool.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, h.calls, "freshness check must short-circuit before any provider call")
}

func TestPool_Tick_RateLimitStopsBatchImmediately(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	h.gw.Tickers["AAPL"] = domain.Ticker{Symbol: "AAPL", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour)}
	h.gw.Tickers["MSFT"] = domain.Ticker{Symbol: "MSFT", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour)}

	result, err := h.pool.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Leased)
	assert.True(t, result.RateLimited)
	assert.Equal(t, 0, result.Processed)

	// both items remain in the queue, still leased (not completed/failed).
	assert.Len(t, h.gw.Queue, 2)
}

func TestPool_Tick_RateLimitStillDrainsEarlierEmptiedJob(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticker") == "MSFT" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		dividendPage(map[string]string{
			"ticker": "AAPL", "cash_amount": "0.25", "ex_dividend_date": "2026-03-01",
		})(w, r)
	})

	doneJob, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	h.clock.Advance(time.Second) // ensures AAPL's item sorts ahead of MSFT's in the lease batch
	stuckJob, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	h.gw.Tickers["AAPL"] = domain.Ticker{Symbol: "AAPL", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour)}
	h.gw.Tickers["MSFT"] = domain.Ticker{Symbol: "MSFT", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour)}

	result, err := h.pool.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Leased)
	assert.True(t, result.RateLimited)
	assert.Equal(t, 1, result.Processed)

	// the AAPL job finished its only item before MSFT hit the rate limit,
	// so it must still reach a terminal state in this same tick.
	got, err := h.jobs.GetJob(context.Background(), doneJob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	// MSFT's item is still leased, its job still processing.
	stuck, err := h.jobs.GetJob(context.Background(), stuckJob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stuck.Status)
}

func TestPool_Tick_CancelledJobSkipsWithoutProgressMutation(t *testing.T) {
	h := newHarness(t, dividendPage())

	job, err := h.jobs.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	h.gw.Tickers["AAPL"] = domain.Ticker{Symbol: "AAPL", IsActive: true, CreatedAt: h.clock.Now().Add(-48 * time.Hour)}

	// simulate a cancel that raced ahead of the worker's lease.
	cancelled := h.gw.Jobs[job.ID]
	cancelled.Status = domain.JobStatusCancelled
	h.gw.Jobs[job.ID] = cancelled

	result, err := h.pool.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Leased)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, h.calls)
	assert.Empty(t, h.gw.Queue)

	got, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Processed)
	assert.Equal(t, 0, got.Failed)
}

func TestFailItem_RetryExhaustionDeletesItem(t *testing.T) {
	gw := storetest.New()
	job, err := gw.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Enqueue(context.Background(), job.ID, []string{"AAPL"}, domain.PriorityNormal, false))

	var itemID string
	for id := range gw.Queue {
		itemID = id
	}
	require.NotEmpty(t, itemID)

	for i := 0; i < domain.DefaultMaxRetries; i++ {
		require.NoError(t, gw.FailItem(context.Background(), itemID, "transient upstream error"))
		_, stillQueued := gw.Queue[itemID]
		assert.True(t, stillQueued, "attempt %d should keep the item queued for retry", i+1)
	}

	// one more failure exceeds MaxRetries and the item is dropped.
	require.NoError(t, gw.FailItem(context.Background(), itemID, "transient upstream error"))
	_, stillQueued := gw.Queue[itemID]
	assert.False(t, stillQueued, "item must be dropped once retries are exhausted")
}
