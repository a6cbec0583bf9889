// Package jobmanager implements the Job Manager (§4.5): creates jobs,
// enqueues work items, advances progress counters, and reaches terminal
// states. Grounded on the teacher's internal/queue/types.go (Job/Priority
// modeling) and internal/work/processor.go's progress-reporter emission.
package jobmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
)

type Service struct {
	gw    store.Gateway
	clock clock.Clock
}

func New(gw store.Gateway, clk clock.Clock) *Service {
	return &Service{gw: gw, clock: clk}
}

// CreateJob creates a job and enqueues one item per ticker in a single
// logical call (§4.2 createJob + enqueue, as used by the Ingestion
// Handler's step 4).
func (s *Service) CreateJob(ctx context.Context, jobType domain.JobType, tickers []string, priority domain.Priority, force bool, metadata map[string]any) (domain.Job, error) {
	job, err := s.gw.CreateJob(ctx, jobType, tickers, priority, force, metadata)
	if err != nil {
		return domain.Job{}, err
	}
	if err := s.gw.Enqueue(ctx, job.ID, tickers, priority, force); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Cancel implements §4.5's cancel(jobId): succeeds only if pending.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.gw.CancelJob(ctx, jobID)
}

// AdvanceJob mutates progress counters only; it never regresses them
// (§4.5 invariant: "progress counters only advance").
func (s *Service) AdvanceJob(ctx context.Context, jobID string, deltaProcessed, deltaFailed int) error {
	if deltaProcessed < 0 || deltaFailed < 0 {
		return apperr.New(apperr.Validation, "progress deltas must be non-negative")
	}
	return s.gw.AdvanceJob(ctx, jobID, deltaProcessed, deltaFailed)
}

// MarkProcessing transitions pending -> processing on first item leased
// (§4.5).
func (s *Service) MarkProcessing(ctx context.Context, jobID string) error {
	return s.gw.TransitionJobProcessing(ctx, jobID)
}

// DrainIfEmpty checks whether jobID's queue is empty and, if so, moves it
// to a terminal state (§4.6 step 3).
func (s *Service) DrainIfEmpty(ctx context.Context, jobID string) error {
	depth, err := s.gw.QueueDepthForJob(ctx, jobID)
	if err != nil {
		return err
	}
	if depth > 0 {
		return nil
	}
	return s.gw.TransitionJobTerminal(ctx, jobID)
}

// Progress is §4.5's progress(jobId) response.
type Progress struct {
	Total           int
	Processed       int
	Failed          int
	Remaining       int
	Processing      int
	PercentComplete float64
	ETA             string
}

func (s *Service) Progress(ctx context.Context, jobID string) (Progress, error) {
	job, err := s.gw.GetJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	remaining, err := s.gw.QueueDepthForJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	processing, err := s.gw.LockedCountForJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}

	pct := 0.0
	if job.Total > 0 {
		pct = float64(job.Processed+job.Failed) / float64(job.Total) * 100
	}

	eta := time.Duration(remaining) * 12 * time.Second
	return Progress{
		Total:           job.Total,
		Processed:       job.Processed,
		Failed:          job.Failed,
		Remaining:       remaining,
		Processing:      processing,
		PercentComplete: pct,
		ETA:             fmt.Sprintf("~%s", eta),
	}, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	return s.gw.GetJob(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, f store.JobFilter) ([]domain.Job, error) {
	return s.gw.ListJobs(ctx, f)
}
