package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
)

// CheckAndReserveBudget implements §4.1's checkAndReserve as a single
// atomic statement: read the budget, recompute resets against now, and if
// each counter is under its limit, increment and return admitted. Used
// only for the minute counter's hard limit (§4.1: "Canonical limit ... 5
// calls per minute. Additional hour/day counters are maintained but not
// enforced as hard limits by default").
func (g *Gateway) CheckAndReserveBudget(ctx context.Context, service string, now time.Time) (bool, int64, error) {
	minuteBoundary := now.Truncate(time.Minute)
	hourBoundary := now.Truncate(time.Hour)
	dayBoundary := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var admitted bool
	var waitMs int64

	err := g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		const selectQ = `
			SELECT minute_count, hour_count, day_count, reset_minute, reset_hour, reset_day
			FROM rate_limits WHERE service_name = $1 FOR UPDATE`

		var minuteCount, hourCount, dayCount int
		var resetMinute, resetHour, resetDay time.Time
		err := tx.QueryRow(ctx, selectQ, service).Scan(&minuteCount, &hourCount, &dayCount, &resetMinute, &resetHour, &resetDay)
		if err == pgx.ErrNoRows {
			_, err = tx.Exec(ctx, `
				INSERT INTO rate_limits (service_name, minute_count, hour_count, day_count, reset_minute, reset_hour, reset_day, last_call_time)
				VALUES ($1, 1, 1, 1, $2, $3, $4, $5)`, service, minuteBoundary, hourBoundary, dayBoundary, now)
			admitted = true
			return err
		}
		if err != nil {
			return err
		}

		// §4.1 tie-break: a boundary crossing resets the counter to 1
		// (the admitting call) and advances the reset marker.
		if resetMinute.Before(minuteBoundary) {
			minuteCount, resetMinute = 0, minuteBoundary
		}
		if resetHour.Before(hourBoundary) {
			hourCount, resetHour = 0, hourBoundary
		}
		if resetDay.Before(dayBoundary) {
			dayCount, resetDay = 0, dayBoundary
		}

		if minuteCount >= domain.PolygonMinuteLimit {
			admitted = false
			waitMs = minuteBoundary.Add(time.Minute).Sub(now).Milliseconds()
			// Persist the recomputed (possibly reset) boundaries even when
			// not admitting, so the next caller sees correct state.
			_, err = tx.Exec(ctx, `
				UPDATE rate_limits
				SET minute_count=$2, hour_count=$3, day_count=$4, reset_minute=$5, reset_hour=$6, reset_day=$7
				WHERE service_name = $1`, service, minuteCount, hourCount, dayCount, resetMinute, resetHour, resetDay)
			return err
		}

		admitted = true
		_, err = tx.Exec(ctx, `
			UPDATE rate_limits
			SET minute_count=$2, hour_count=$3, day_count=$4,
			    reset_minute=$5, reset_hour=$6, reset_day=$7, last_call_time=$8
			WHERE service_name = $1`,
			service, minuteCount+1, hourCount+1, dayCount+1, resetMinute, resetHour, resetDay, now)
		return err
	})
	if err != nil {
		return false, 0, apperr.Wrap(apperr.Transient, "check and reserve budget", err)
	}
	return admitted, waitMs, nil
}

// RecordCall updates the call log only; it MUST NOT affect admission
// decisions, and failures here are logged but non-fatal (§4.1) — the
// caller decides whether to swallow the returned error.
func (g *Gateway) RecordCall(ctx context.Context, log domain.CallLog) error {
	metaJSON, err := json.Marshal(log.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "encode call log metadata", err)
	}
	const q = `
		INSERT INTO api_call_logs (id, service_name, endpoint, ticker_symbol, response_status,
			response_time_ms, rate_limit_remaining, error_message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`
	_, err = g.db.pool().Exec(ctx, q, newID(), log.ServiceName, log.Endpoint, log.TickerSymbol,
		log.ResponseStatus, log.ResponseTimeMs, log.RateLimitRemaining, log.ErrorMessage, metaJSON)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "record call log", err)
	}
	return nil
}
