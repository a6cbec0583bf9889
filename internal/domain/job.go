package domain

import "time"

// JobType enumerates the kinds of work a Job can represent (§3).
type JobType string

const (
	JobTypeDividendUpdate JobType = "dividend_update"
	JobTypeTickerSync     JobType = "ticker_sync"
	JobTypeDataCleanup    JobType = "data_cleanup"
)

// JobStatus is the Job Manager state machine of §4.5.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether s has no outgoing transitions (§4.5).
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Priority is shared between Job and QueueItem. The store orders queue
// dispatch by Priority DESC, ScheduledAt ASC (§4.2); job-level priority is
// informational only (§9 Open Question).
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Job is a collection of per-ticker work items with shared metadata and
// aggregate progress accounting (§3).
type Job struct {
	ID             string
	Type           JobType
	Status         JobStatus
	TickerSymbols  []string
	Total          int
	Processed      int
	Failed         int
	Priority       Priority
	// Force is a first-class field (§9: "force flag threaded via metadata
	// JSON" is re-architected here as an explicit column), not metadata.
	Force               bool
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	EstimatedCompletion time.Time
	Metadata            map[string]any
	ErrorMessage        string
}

// Remaining is Total minus items already accounted for; used only for
// display, the authoritative "remaining" is queue depth (§4.5 progress()).
func (j Job) Remaining() int {
	r := j.Total - j.Processed - j.Failed
	if r < 0 {
		return 0
	}
	return r
}

// CanCancel reports whether the job may still be cancelled (§4.5: only from pending).
func (j Job) CanCancel() bool { return j.Status == JobStatusPending }

// QueueItem is a single unit of per-ticker work belonging to a Job (§3).
type QueueItem struct {
	ID           string
	JobID        string
	TickerSymbol string
	Priority     Priority
	RetryCount   int
	MaxRetries   int
	ScheduledAt  time.Time
	LockedAt     *time.Time
	LockedBy     string
	ErrorMessage string
	// Force mirrors the owning job's Force flag at lease time, so the
	// worker doesn't need a second lookup to honor §4.6 step 2c.
	Force bool
}

const DefaultMaxRetries = 3

// LeaseTTL is the minimum time a lease is honored before another worker may
// re-lease the item (§4.2, §5).
const LeaseTTL = 5 * time.Minute

// Visible reports whether the item is eligible for leaseQueueItems (§3):
// scheduled_at <= now and (locked_at is nil or locked_at < now-LeaseTTL).
func (q QueueItem) Visible(now time.Time) bool {
	if q.ScheduledAt.After(now) {
		return false
	}
	if q.LockedAt == nil {
		return true
	}
	return q.LockedAt.Before(now.Add(-LeaseTTL))
}

// NextBackoff computes the §4.2 failItem retry schedule: 2^retry_count
// minutes from now.
func NextBackoff(retryCount int) time.Duration {
	minutes := 1 << uint(retryCount)
	return time.Duration(minutes) * time.Minute
}
