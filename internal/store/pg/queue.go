package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
)

const queueColumns = `id, job_id, ticker_symbol, priority, retry_count, max_retries,
	scheduled_at, locked_at, locked_by, error_message, force`

// Enqueue inserts one queue item per symbol (§4.2).
func (g *Gateway) Enqueue(ctx context.Context, jobID string, tickers []string, priority domain.Priority, force bool) error {
	const q = `
		INSERT INTO job_queue (id, job_id, ticker_symbol, priority, retry_count, max_retries, scheduled_at, force)
		VALUES ($1,$2,$3,$4,0,$5, now(), $6)`
	batch := &pgx.Batch{}
	for _, t := range tickers {
		batch.Queue(q, newID(), jobID, t, int(priority), domain.DefaultMaxRetries, force)
	}
	br := g.db.pool().SendBatch(ctx, batch)
	defer br.Close()
	for range tickers {
		if _, err := br.Exec(); err != nil {
			return apperr.Wrap(apperr.Transient, "enqueue item", err)
		}
	}
	return nil
}

// LeaseQueueItems returns up to limit visible items (§3: scheduled_at <=
// now and lock expired or absent), atomically stamping locked_at/locked_by,
// ordered priority DESC, scheduled_at ASC (§4.2). The UPDATE ... RETURNING
// over a CTE makes the lease atomic against concurrent callers (§4.1-style
// compare-and-update), satisfying the "lease safety" testable property.
func (g *Gateway) LeaseQueueItems(ctx context.Context, limit int, workerID string) ([]domain.QueueItem, error) {
	const q = `
		WITH candidates AS (
			SELECT id FROM job_queue
			WHERE scheduled_at <= now()
			  AND (locked_at IS NULL OR locked_at < now() - $1::interval)
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE job_queue
		SET locked_at = now(), locked_by = $3
		WHERE id IN (SELECT id FROM candidates)
		RETURNING ` + queueColumns

	rows, err := g.db.pool().Query(ctx, q, leaseTTLInterval(), limit, workerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "lease queue items", err)
	}
	defer rows.Close()

	var out []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan queue item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func leaseTTLInterval() string {
	return domain.LeaseTTL.String()
}

func (g *Gateway) CompleteItem(ctx context.Context, itemID string) error {
	_, err := g.db.pool().Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, itemID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "complete item", err)
	}
	return nil
}

// FailItem implements §4.2's failItem: delete if retries exhausted,
// otherwise bump retry_count and reschedule with exponential backoff.
func (g *Gateway) FailItem(ctx context.Context, itemID string, errMsg string) error {
	const selectQ = `SELECT retry_count, max_retries FROM job_queue WHERE id = $1`
	var retryCount, maxRetries int
	if err := g.db.pool().QueryRow(ctx, selectQ, itemID).Scan(&retryCount, &maxRetries); err != nil {
		return apperr.Wrap(apperr.Transient, "load item for fail", err)
	}

	if retryCount+1 > maxRetries {
		return g.CompleteItem(ctx, itemID)
	}

	const q = `
		UPDATE job_queue
		SET retry_count = retry_count + 1, error_message = $2,
		    scheduled_at = now() + $3::interval, locked_at = NULL, locked_by = NULL
		WHERE id = $1`
	backoff := domain.NextBackoff(retryCount + 1)
	_, err := g.db.pool().Exec(ctx, q, itemID, errMsg, backoff.String())
	if err != nil {
		return apperr.Wrap(apperr.Transient, "fail item", err)
	}
	return nil
}

func (g *Gateway) QueueDepthForJob(ctx context.Context, jobID string) (int, error) {
	var n int
	err := g.db.pool().QueryRow(ctx, `SELECT count(*) FROM job_queue WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "queue depth", err)
	}
	return n, nil
}

// LockedCountForJob counts jobID's queue items currently leased by a
// worker (locked_at set), surfaced as progress(jobId)'s "processing" count.
func (g *Gateway) LockedCountForJob(ctx context.Context, jobID string) (int, error) {
	var n int
	err := g.db.pool().QueryRow(ctx, `SELECT count(*) FROM job_queue WHERE job_id = $1 AND locked_at IS NOT NULL`, jobID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "locked count", err)
	}
	return n, nil
}

// JobIDsTouchedSince returns distinct job IDs this worker holds leases on
// that were taken at or after the given time. The worker tick loop does not
// call it; it tracks the jobs it touched in memory.
func (g *Gateway) JobIDsTouchedSince(ctx context.Context, workerID string, since time.Time) ([]string, error) {
	rows, err := g.db.pool().Query(ctx,
		`SELECT DISTINCT job_id FROM job_queue WHERE locked_by = $1 AND locked_at >= $2`,
		workerID, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "job ids touched", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanQueueItem(row pgx.Rows) (domain.QueueItem, error) {
	var q domain.QueueItem
	var locked *time.Time
	var lockedBy *string
	if err := row.Scan(&q.ID, &q.JobID, &q.TickerSymbol, &q.Priority, &q.RetryCount, &q.MaxRetries,
		&q.ScheduledAt, &locked, &lockedBy, &q.ErrorMessage, &q.Force); err != nil {
		return domain.QueueItem{}, err
	}
	q.LockedAt = locked
	if lockedBy != nil {
		q.LockedBy = *lockedBy
	}
	return q, nil
}
