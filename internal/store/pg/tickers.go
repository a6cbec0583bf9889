package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
)

const tickerColumns = `symbol, is_active, created_at, last_dividend_update, update_frequency_hours`

// UpsertTicker is idempotent; it sets is_active := true if newly created
// (§4.2). The row is read back so callers see the authoritative state
// (including any pre-existing last_dividend_update) used by the Routing
// Oracle.
func (g *Gateway) UpsertTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	const q = `
		INSERT INTO tickers (symbol, is_active, created_at, update_frequency_hours)
		VALUES ($1, true, now(), $2)
		ON CONFLICT (symbol) DO UPDATE SET is_active = true
		RETURNING ` + tickerColumns

	row := g.db.pool().QueryRow(ctx, q, symbol, domain.DefaultUpdateFrequencyHours)
	return scanTicker(row)
}

func (g *Gateway) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	const q = `SELECT ` + tickerColumns + ` FROM tickers WHERE symbol = $1`
	row := g.db.pool().QueryRow(ctx, q, symbol)
	t, err := scanTicker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticker{}, apperr.New(apperr.NotFound, "ticker not found: "+symbol)
	}
	return t, err
}

// TouchLastDividendUpdate advances last_dividend_update; the column is
// monotonic (§3) so this only ever moves it forward.
func (g *Gateway) TouchLastDividendUpdate(ctx context.Context, symbol string, at time.Time) error {
	const q = `
		UPDATE tickers
		SET last_dividend_update = $2
		WHERE symbol = $1 AND (last_dividend_update IS NULL OR last_dividend_update < $2)`
	_, err := g.db.pool().Exec(ctx, q, symbol, at)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update last_dividend_update", err)
	}
	return nil
}

func scanTicker(row pgx.Row) (domain.Ticker, error) {
	var t domain.Ticker
	var lastUpdate *time.Time
	if err := row.Scan(&t.Symbol, &t.IsActive, &t.CreatedAt, &lastUpdate, &t.UpdateFrequencyHours); err != nil {
		return domain.Ticker{}, err
	}
	t.LastDividendUpdate = lastUpdate
	return t, nil
}
