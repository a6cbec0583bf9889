// Package storetest provides an in-memory store.Gateway for exercising the
// Job Manager, Worker Pool and HTTP handlers without a Postgres instance.
// Not a mock in the record-and-replay sense: it implements the real
// invariants (lease exclusivity, queue ordering, terminal-state guards) the
// same way store/pg does, just against maps instead of SQL.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
)

type Fake struct {
	mu sync.Mutex

	Tickers   map[string]domain.Ticker
	Dividends map[string][]domain.Dividend // keyed by ticker
	Jobs      map[string]domain.Job
	Queue     map[string]domain.QueueItem
	Users     map[string]domain.ApiUser // keyed by API key
	Subs      map[string]map[string]domain.Subscription
	Activity  []domain.SubscriptionActivity

	// Budget lets tests force a specific admission decision without
	// modeling minute/hour/day windows.
	BudgetAdmitted bool
	BudgetWaitMs   int64

	Now func() time.Time
}

func New() *Fake {
	return &Fake{
		Tickers:        map[string]domain.Ticker{},
		Dividends:      map[string][]domain.Dividend{},
		Jobs:           map[string]domain.Job{},
		Queue:          map[string]domain.QueueItem{},
		Users:          map[string]domain.ApiUser{},
		Subs:           map[string]map[string]domain.Subscription{},
		BudgetAdmitted: true,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

func (f *Fake) UpsertTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tickers[symbol]
	if !ok {
		t = domain.Ticker{Symbol: symbol, IsActive: true, CreatedAt: f.Now(), UpdateFrequencyHours: domain.DefaultUpdateFrequencyHours}
	} else {
		t.IsActive = true
	}
	f.Tickers[symbol] = t
	return t, nil
}

func (f *Fake) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tickers[symbol]
	if !ok {
		return domain.Ticker{}, apperr.New(apperr.NotFound, "ticker not found")
	}
	return t, nil
}

func (f *Fake) TouchLastDividendUpdate(ctx context.Context, symbol string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tickers[symbol]
	if !ok {
		return apperr.New(apperr.NotFound, "ticker not found")
	}
	t.LastDividendUpdate = &at
	f.Tickers[symbol] = t
	return nil
}

func (f *Fake) UpsertDividends(ctx context.Context, ticker string, records []domain.Dividend) (store.UpsertSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := store.UpsertSummary{}
	for _, d := range records {
		d = d.WithDefaults()
		if err := d.Validate(); err != nil {
			summary.Errors++
			summary.ErrorMessages = append(summary.ErrorMessages, err.Error())
			continue
		}
		d.Ticker = ticker
		f.Dividends[ticker] = append(f.Dividends[ticker], d)
		summary.Inserted++
	}
	return summary, nil
}

func (f *Fake) ListDividends(ctx context.Context, ticker string, filter store.DividendFilter) ([]domain.Dividend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Dividends[ticker], nil
}

func (f *Fake) ListAllDividends(ctx context.Context, filter store.DividendFilter) ([]domain.Dividend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Dividend
	for _, records := range f.Dividends {
		all = append(all, records...)
	}
	return all, nil
}

func (f *Fake) CreateJob(ctx context.Context, jobType domain.JobType, tickers []string, priority domain.Priority, force bool, metadata map[string]any) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := domain.Job{
		ID:            uuid.NewString(),
		Type:          jobType,
		Status:        domain.JobStatusPending,
		TickerSymbols: tickers,
		Total:         len(tickers),
		Priority:      priority,
		Force:         force,
		CreatedAt:     f.Now(),
		Metadata:      metadata,
	}
	f.Jobs[job.ID] = job
	return job, nil
}

func (f *Fake) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[jobID]
	if !ok {
		return domain.Job{}, apperr.New(apperr.NotFound, "job not found")
	}
	return j, nil
}

func (f *Fake) ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.Jobs {
		if filter.Status != "" && string(j.Status) != filter.Status {
			continue
		}
		if filter.JobType != "" && string(j.Type) != filter.JobType {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *Fake) AdvanceJob(ctx context.Context, jobID string, deltaProcessed, deltaFailed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Processed += deltaProcessed
	j.Failed += deltaFailed
	f.Jobs[jobID] = j
	return nil
}

func (f *Fake) TransitionJobProcessing(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	if j.Status != domain.JobStatusPending {
		return nil
	}
	j.Status = domain.JobStatusProcessing
	now := f.Now()
	j.StartedAt = &now
	f.Jobs[jobID] = j
	return nil
}

func (f *Fake) TransitionJobTerminal(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	if j.Status != domain.JobStatusProcessing {
		return nil
	}
	if j.Processed > 0 {
		j.Status = domain.JobStatusCompleted
	} else {
		j.Status = domain.JobStatusFailed
	}
	now := f.Now()
	j.CompletedAt = &now
	f.Jobs[jobID] = j
	return nil
}

func (f *Fake) CancelJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	if j.Status != domain.JobStatusPending {
		return apperr.New(apperr.Conflict, "job is not pending")
	}
	j.Status = domain.JobStatusCancelled
	f.Jobs[jobID] = j
	for id, item := range f.Queue {
		if item.JobID == jobID {
			delete(f.Queue, id)
		}
	}
	return nil
}

func (f *Fake) Enqueue(ctx context.Context, jobID string, tickers []string, priority domain.Priority, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, symbol := range tickers {
		item := domain.QueueItem{
			ID:           uuid.NewString(),
			JobID:        jobID,
			TickerSymbol: symbol,
			Priority:     priority,
			MaxRetries:   domain.DefaultMaxRetries,
			ScheduledAt:  f.Now(),
			Force:        force,
		}
		f.Queue[item.ID] = item
	}
	return nil
}

func (f *Fake) LeaseQueueItems(ctx context.Context, limit int, workerID string) ([]domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.Now()
	var candidates []domain.QueueItem
	for _, item := range f.Queue {
		if !item.Visible(now) {
			continue
		}
		candidates = append(candidates, item)
	}
	// mirror store/pg's ORDER BY priority DESC, scheduled_at ASC, so tests
	// see deterministic lease order rather than Go's random map order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	for i, item := range candidates {
		item.LockedAt = &now
		item.LockedBy = workerID
		f.Queue[item.ID] = item
		candidates[i] = item
	}
	return candidates, nil
}

func (f *Fake) CompleteItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Queue, itemID)
	return nil
}

func (f *Fake) FailItem(ctx context.Context, itemID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.Queue[itemID]
	if !ok {
		return nil
	}
	item.RetryCount++
	item.ErrorMessage = errMsg
	item.LockedAt = nil
	item.LockedBy = ""
	if item.RetryCount > item.MaxRetries {
		delete(f.Queue, itemID)
		return nil
	}
	item.ScheduledAt = f.Now().Add(domain.NextBackoff(item.RetryCount))
	f.Queue[itemID] = item
	return nil
}

func (f *Fake) QueueDepthForJob(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	depth := 0
	for _, item := range f.Queue {
		if item.JobID == jobID {
			depth++
		}
	}
	return depth, nil
}

func (f *Fake) LockedCountForJob(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, item := range f.Queue {
		if item.JobID == jobID && item.LockedAt != nil {
			count++
		}
	}
	return count, nil
}

func (f *Fake) JobIDsTouchedSince(ctx context.Context, workerID string, since time.Time) ([]string, error) {
	return nil, nil
}

func (f *Fake) CheckAndReserveBudget(ctx context.Context, service string, now time.Time) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BudgetAdmitted, f.BudgetWaitMs, nil
}

func (f *Fake) RecordCall(ctx context.Context, log domain.CallLog) error { return nil }

func (f *Fake) GetAPIUser(ctx context.Context, apiKey string) (domain.ApiUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[apiKey]
	if !ok {
		return domain.ApiUser{}, apperr.New(apperr.Auth, "unknown api key")
	}
	return u, nil
}

func (f *Fake) CountSubscriptions(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Subs[userID]), nil
}

func (f *Fake) Subscribe(ctx context.Context, userID, ticker string, priority int) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Subs[userID] == nil {
		f.Subs[userID] = map[string]domain.Subscription{}
	}
	_, already := f.Subs[userID][ticker]
	if !already {
		user := f.Users[f.apiKeyForUser(userID)]
		if user.MaxSubscriptions > 0 && len(f.Subs[userID]) >= user.MaxSubscriptions {
			return domain.Subscription{}, apperr.New(apperr.Conflict, "Subscription limit reached")
		}
	}
	sub := domain.Subscription{UserID: userID, TickerSymbol: ticker, Priority: priority, SubscribedAt: f.Now()}
	f.Subs[userID][ticker] = sub
	return sub, nil
}

func (f *Fake) Unsubscribe(ctx context.Context, userID, ticker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Subs[userID] == nil {
		return apperr.New(apperr.NotFound, "not subscribed")
	}
	if _, ok := f.Subs[userID][ticker]; !ok {
		return apperr.New(apperr.NotFound, "not subscribed")
	}
	delete(f.Subs[userID], ticker)
	return nil
}

func (f *Fake) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.Subs[userID] {
		out = append(out, sub)
	}
	return out, nil
}

func (f *Fake) AppendSubscriptionActivity(ctx context.Context, activity domain.SubscriptionActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	activity.ID = uuid.NewString()
	activity.CreatedAt = f.Now()
	f.Activity = append(f.Activity, activity)
	return nil
}

func (f *Fake) ListSubscriptionActivity(ctx context.Context, userID string, limit, offset int) ([]domain.SubscriptionActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SubscriptionActivity
	for _, a := range f.Activity {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error { return nil }
func (f *Fake) Close()                         {}

// apiKeyForUser is a test-only helper: the fake keys Users by API key but
// Subscribe receives a user ID, so callers that need the cap check to fire
// must register the user such that ID == APIKey (tests do this).
func (f *Fake) apiKeyForUser(userID string) string { return userID }

var _ store.Gateway = (*Fake)(nil)
