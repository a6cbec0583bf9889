// Package store defines the Store Gateway: a leaf interface (§9) giving
// typed access to tickers, dividends, jobs, queue items, rate budgets, call
// logs, API users and subscriptions. The concrete implementation lives in
// store/pg and is never imported directly by handlers or the worker pool —
// only this interface is.
package store

import (
	"context"
	"time"

	"github.com/aristath/dividend-ingest/internal/domain"
)

// UpsertSummary reports the outcome of a batch dividend upsert (§4.2):
// never a partial-write panic, always a summary of what happened.
type UpsertSummary struct {
	Inserted      int
	Errors        int
	ErrorMessages []string
}

// JobFilter narrows GET /jobs listing (§6.1).
type JobFilter struct {
	Status  string
	JobType string
	Limit   int
	Offset  int
	Sort    string
	Order   string
}

// DividendFilter narrows dividend reads (§6.1).
type DividendFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Gateway is the full Store Gateway contract (§4.2). Every method may
// return an *apperr.E with Code one of Transient, Conflict, NotFound,
// Validation or (GetAPIUser) Auth; callers MAY retry Transient.
type Gateway interface {
	// Tickers
	UpsertTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	TouchLastDividendUpdate(ctx context.Context, symbol string, at time.Time) error

	// Dividends
	UpsertDividends(ctx context.Context, ticker string, records []domain.Dividend) (UpsertSummary, error)
	ListDividends(ctx context.Context, ticker string, f DividendFilter) ([]domain.Dividend, error)
	ListAllDividends(ctx context.Context, f DividendFilter) ([]domain.Dividend, error)

	// Jobs
	CreateJob(ctx context.Context, jobType domain.JobType, tickers []string, priority domain.Priority, force bool, metadata map[string]any) (domain.Job, error)
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]domain.Job, error)
	AdvanceJob(ctx context.Context, jobID string, deltaProcessed, deltaFailed int) error
	TransitionJobProcessing(ctx context.Context, jobID string) error
	TransitionJobTerminal(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error

	// Queue
	Enqueue(ctx context.Context, jobID string, tickers []string, priority domain.Priority, force bool) error
	LeaseQueueItems(ctx context.Context, limit int, workerID string) ([]domain.QueueItem, error)
	CompleteItem(ctx context.Context, itemID string) error
	FailItem(ctx context.Context, itemID string, errMsg string) error
	QueueDepthForJob(ctx context.Context, jobID string) (int, error)
	LockedCountForJob(ctx context.Context, jobID string) (int, error)
	JobIDsTouchedSince(ctx context.Context, workerID string, since time.Time) ([]string, error)

	// Rate budget (see also ratebudget.Service, which wraps this with the
	// local fast-path limiter)
	CheckAndReserveBudget(ctx context.Context, service string, now time.Time) (admitted bool, waitMs int64, err error)
	RecordCall(ctx context.Context, log domain.CallLog) error

	// API users & subscriptions
	GetAPIUser(ctx context.Context, apiKey string) (domain.ApiUser, error)
	CountSubscriptions(ctx context.Context, userID string) (int, error)
	Subscribe(ctx context.Context, userID, ticker string, priority int) (domain.Subscription, error)
	Unsubscribe(ctx context.Context, userID, ticker string) error
	ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	AppendSubscriptionActivity(ctx context.Context, activity domain.SubscriptionActivity) error
	ListSubscriptionActivity(ctx context.Context, userID string, limit, offset int) ([]domain.SubscriptionActivity, error)

	Ping(ctx context.Context) error
	Close()
}
