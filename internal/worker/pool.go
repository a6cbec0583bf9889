// Package worker implements the Worker Pool (§4.6): pulls queue items
// honoring the rate budget, invokes the Upstream Fetcher, commits results
// through the Store Gateway, updates the Job Manager.
//
// Grounded on the teacher's internal/work/processor.go tick loop (lease
// batch -> per-item dispatch -> retry queue -> dependency/skip handling),
// adapted from in-memory structures to DB-backed leaseQueueItems, and on
// internal/work/dividend.go's detect->analyze->recommend->execute pipeline
// shape, here re-targeted to route->fetch->upsert->advance.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/fetcher"
	"github.com/aristath/dividend-ingest/internal/jobmanager"
	"github.com/aristath/dividend-ingest/internal/ratebudget"
	"github.com/aristath/dividend-ingest/internal/store"
)

// Pool is a single worker's tick loop. Multiple Pool instances (different
// WorkerID) may run concurrently against the same store (§5).
type Pool struct {
	gw        store.Gateway
	fetcher   *fetcher.Client
	jobs      *jobmanager.Service
	budget    *ratebudget.Service
	clock     clock.Clock
	workerID  string
	batchSize int
	log       zerolog.Logger

	// ItemSleep is the courtesy sleep between items recommended by §4.6
	// ("≈1s to avoid bursting through upstream caches").
	ItemSleep time.Duration
}

type Config struct {
	WorkerID  string
	BatchSize int
}

func New(gw store.Gateway, f *fetcher.Client, jobs *jobmanager.Service, budget *ratebudget.Service, clk clock.Clock, cfg Config, log zerolog.Logger) *Pool {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Pool{
		gw:        gw,
		fetcher:   f,
		jobs:      jobs,
		budget:    budget,
		clock:     clk,
		workerID:  cfg.WorkerID,
		batchSize: batchSize,
		log:       log,
		ItemSleep: time.Second,
	}
}

// TickResult summarizes one tick, surfaced in diagnostics endpoints.
type TickResult struct {
	Leased       int
	Processed    int
	Failed       int
	Skipped      int
	RateLimited  bool
	WaitMs       int64
}

// Tick runs one iteration of §4.6's algorithm.
func (p *Pool) Tick(ctx context.Context) (TickResult, error) {
	decision, err := p.budget.CheckAndReserve(ctx, domain.PolygonService)
	if err != nil {
		return TickResult{}, err
	}
	if !decision.Admitted {
		return TickResult{RateLimited: true, WaitMs: decision.WaitMs}, nil
	}

	items, err := p.gw.LeaseQueueItems(ctx, p.batchSize, p.workerID)
	if err != nil {
		return TickResult{}, err
	}

	result := TickResult{Leased: len(items)}
	touchedJobs := map[string]struct{}{}

	for i, item := range items {
		touchedJobs[item.JobID] = struct{}{}

		job, err := p.jobs.GetJob(ctx, item.JobID)
		if err != nil {
			// Job missing entirely: treat like a terminal job (§4.6 step 2a).
			_ = p.gw.CompleteItem(ctx, item.ID)
			continue
		}

		if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusProcessing {
			// §4.6 step 2a: not pending/processing, complete and skip, no
			// progress mutation.
			_ = p.gw.CompleteItem(ctx, item.ID)
			continue
		}

		if job.Status == domain.JobStatusPending {
			if err := p.jobs.MarkProcessing(ctx, job.ID); err != nil {
				p.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job processing")
			}
		}

		outcome := p.processItem(ctx, item)
		switch outcome {
		case outcomeSkipped:
			result.Skipped++
		case outcomeProcessed:
			result.Processed++
		case outcomeFailed:
			result.Failed++
		case outcomeRateLimited:
			// §4.6 step 2d: stop the batch immediately; remaining items
			// keep their lease until TTL or next tick. Jobs already
			// emptied earlier in this same batch still need draining,
			// or they'd be stuck in "processing" forever.
			result.RateLimited = true
			p.drainTouchedJobs(ctx, touchedJobs)
			return result, nil
		}

		if i < len(items)-1 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(p.ItemSleep):
			}
		}
	}

	p.drainTouchedJobs(ctx, touchedJobs)

	return result, nil
}

// drainTouchedJobs runs DrainIfEmpty (§4.6 step 3) over every job touched
// this tick, regardless of why the batch ended.
func (p *Pool) drainTouchedJobs(ctx context.Context, touchedJobs map[string]struct{}) {
	for jobID := range touchedJobs {
		if err := p.jobs.DrainIfEmpty(ctx, jobID); err != nil {
			p.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to drain job to terminal")
		}
	}
}

type itemOutcome int

const (
	outcomeProcessed itemOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeRateLimited
)

func (p *Pool) processItem(ctx context.Context, item domain.QueueItem) itemOutcome {
	if !item.Force {
		if needsUpdate, err := p.freshnessCheck(ctx, item.TickerSymbol); err == nil && !needsUpdate {
			// §4.6 step 2c: "no update needed" — complete + advance as
			// processed, counted as skipped in the result payload only.
			_ = p.gw.CompleteItem(ctx, item.ID)
			_ = p.jobs.AdvanceJob(ctx, item.JobID, 1, 0)
			return outcomeSkipped
		}
	}

	records, err := p.fetcher.FetchDividends(ctx, item.TickerSymbol, p.fetcher.HistoricalRange(), fetcher.Historical)
	if err != nil {
		if _, rateLimited := err.(fetcher.RateLimited); rateLimited {
			return outcomeRateLimited
		}
		_ = p.gw.FailItem(ctx, item.ID, err.Error())
		_ = p.jobs.AdvanceJob(ctx, item.JobID, 0, 1)
		return outcomeFailed
	}

	if _, err := p.gw.UpsertDividends(ctx, item.TickerSymbol, records); err != nil {
		_ = p.gw.FailItem(ctx, item.ID, err.Error())
		_ = p.jobs.AdvanceJob(ctx, item.JobID, 0, 1)
		return outcomeFailed
	}

	now := p.clock.Now()
	_ = p.gw.TouchLastDividendUpdate(ctx, item.TickerSymbol, now)
	_ = p.gw.CompleteItem(ctx, item.ID)
	_ = p.jobs.AdvanceJob(ctx, item.JobID, 1, 0)
	return outcomeProcessed
}

// freshnessCheck reports whether ticker needs an update: true unless its
// last_dividend_update is within its configured update_frequency_hours.
func (p *Pool) freshnessCheck(ctx context.Context, symbol string) (bool, error) {
	t, err := p.gw.GetTicker(ctx, symbol)
	if err != nil {
		return true, err
	}
	if t.LastDividendUpdate == nil {
		return true, nil
	}
	freshnessWindow := time.Duration(t.UpdateFrequencyHours) * time.Hour
	return p.clock.Now().Sub(*t.LastDividendUpdate) >= freshnessWindow, nil
}
