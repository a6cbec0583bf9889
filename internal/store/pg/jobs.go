package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
)

const jobColumns = `id, job_type, status, ticker_symbols, total, processed, failed, priority,
	force, created_at, started_at, completed_at, estimated_completion, metadata, error_message`

// CreateJob sets total := len(tickerSymbols) and estimated_completion :=
// now + ceil(len x 12s), per §4.2.
func (g *Gateway) CreateJob(ctx context.Context, jobType domain.JobType, tickers []string, priority domain.Priority, force bool, metadata map[string]any) (domain.Job, error) {
	id := newID()
	eta := time.Duration(math.Ceil(float64(len(tickers))*12)) * time.Second
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return domain.Job{}, apperr.Wrap(apperr.Validation, "encode job metadata", err)
	}

	const q = `
		INSERT INTO api_jobs (id, job_type, status, ticker_symbols, total, processed, failed,
			priority, force, created_at, estimated_completion, metadata)
		VALUES ($1,$2,'pending',$3,$4,0,0,$5,$6, now(), now() + $7::interval, $8)
		RETURNING ` + jobColumns

	row := g.db.pool().QueryRow(ctx, q, id, jobType, tickers, len(tickers), int(priority), force,
		fmt.Sprintf("%d seconds", int(eta.Seconds())), metaJSON)
	return scanJob(row)
}

func (g *Gateway) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM api_jobs WHERE id = $1`
	row := g.db.pool().QueryRow(ctx, q, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, apperr.New(apperr.NotFound, "job not found: "+jobID)
	}
	return j, err
}

func (g *Gateway) ListJobs(ctx context.Context, f store.JobFilter) ([]domain.Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sortCol := "created_at"
	switch f.Sort {
	case "priority", "status":
		sortCol = f.Sort
	}
	order := "DESC"
	if f.Order == "asc" {
		order = "ASC"
	}

	q := `SELECT ` + jobColumns + ` FROM api_jobs WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		q += " AND status = " + arg(f.Status)
	}
	if f.JobType != "" {
		q += " AND job_type = " + arg(f.JobType)
	}
	q += fmt.Sprintf(" ORDER BY %s %s LIMIT %s OFFSET %s", sortCol, order, arg(limit), arg(f.Offset))

	rows, err := g.db.pool().Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list jobs", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// AdvanceJob increments counters of a non-terminal job and leaves its
// status unchanged: the pending→processing transition happens in
// TransitionJobProcessing, and terminal transitions happen
// separately in TransitionJobTerminal once the queue for the job drains
// (§4.6 step 3), keeping counter updates and status transitions in small,
// independent transactions per §5's locking discipline.
func (g *Gateway) AdvanceJob(ctx context.Context, jobID string, deltaProcessed, deltaFailed int) error {
	const q = `
		UPDATE api_jobs
		SET processed = processed + $2, failed = failed + $3
		WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`
	_, err := g.db.pool().Exec(ctx, q, jobID, deltaProcessed, deltaFailed)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "advance job", err)
	}
	return nil
}

func (g *Gateway) TransitionJobProcessing(ctx context.Context, jobID string) error {
	const q = `
		UPDATE api_jobs SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'pending'`
	_, err := g.db.pool().Exec(ctx, q, jobID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "transition job processing", err)
	}
	return nil
}

// TransitionJobTerminal moves a job whose queue has drained to completed
// (if any item was processed) or failed otherwise (§4.5).
func (g *Gateway) TransitionJobTerminal(ctx context.Context, jobID string) error {
	const q = `
		UPDATE api_jobs
		SET status = CASE WHEN processed > 0 THEN 'completed' ELSE 'failed' END,
		    completed_at = now()
		WHERE id = $1 AND status = 'processing'`
	_, err := g.db.pool().Exec(ctx, q, jobID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "transition job terminal", err)
	}
	return nil
}

// CancelJob succeeds only if the job is pending (§4.5): sets status,
// error_message, and deletes all queue items for the job.
func (g *Gateway) CancelJob(ctx context.Context, jobID string) error {
	return g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE api_jobs
			SET status = 'cancelled', error_message = 'Job cancelled by user', completed_at = now()
			WHERE id = $1 AND status = 'pending'`, jobID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.Conflict, "job is not pending, cannot cancel")
		}
		_, err = tx.Exec(ctx, `DELETE FROM job_queue WHERE job_id = $1`, jobID)
		return err
	})
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var metaJSON []byte
	var started, completed *time.Time
	if err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.TickerSymbols, &j.Total, &j.Processed, &j.Failed,
		&j.Priority, &j.Force, &j.CreatedAt, &started, &completed, &j.EstimatedCompletion,
		&metaJSON, &j.ErrorMessage,
	); err != nil {
		return domain.Job{}, err
	}
	j.StartedAt, j.CompletedAt = started, completed
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &j.Metadata); err != nil {
			return domain.Job{}, err
		}
	}
	return j, nil
}
