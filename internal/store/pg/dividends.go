package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/money"
	"github.com/aristath/dividend-ingest/internal/store"
)

const dividendColumns = `ticker, declaration_date, record_date, ex_dividend_date, pay_date,
	amount, currency, frequency, type, polygon_id, data_source, created_at, updated_at`

// UpsertDividends bulk-upserts by (ticker, ex_dividend_date) inside a
// single transaction (§4.2): the whole batch is one transactional call,
// never a partial write. Records failing per-record validation are
// skipped and reported in the summary rather than aborting the batch.
func (g *Gateway) UpsertDividends(ctx context.Context, ticker string, records []domain.Dividend) (store.UpsertSummary, error) {
	summary := store.UpsertSummary{}

	err := g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		const q = `
			INSERT INTO dividends (` + dividendColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now(), now())
			ON CONFLICT (ticker, ex_dividend_date) DO UPDATE SET
				declaration_date = EXCLUDED.declaration_date,
				record_date      = EXCLUDED.record_date,
				pay_date         = EXCLUDED.pay_date,
				amount           = EXCLUDED.amount,
				currency         = EXCLUDED.currency,
				frequency        = EXCLUDED.frequency,
				type             = EXCLUDED.type,
				polygon_id       = EXCLUDED.polygon_id,
				data_source      = EXCLUDED.data_source,
				updated_at       = now()`

		for _, raw := range records {
			d := raw.WithDefaults()
			if err := d.Validate(); err != nil {
				summary.Errors++
				summary.ErrorMessages = append(summary.ErrorMessages,
					fmt.Sprintf("%s %s: %v", d.Ticker, d.ExDividendDate.Format("2006-01-02"), err))
				continue
			}

			_, err := tx.Exec(ctx, q,
				ticker, d.DeclarationDate, d.RecordDate, d.ExDividendDate, d.PayDate,
				d.Amount.String(), d.Currency, d.Frequency, d.Type, d.PolygonID, d.DataSource,
			)
			if err != nil {
				return fmt.Errorf("upsert dividend %s/%s: %w", ticker, d.ExDividendDate, err)
			}
			summary.Inserted++
		}
		return nil
	})
	if err != nil {
		return store.UpsertSummary{}, apperr.Wrap(apperr.Transient, "upsert dividends batch", err)
	}
	return summary, nil
}

func (g *Gateway) ListDividends(ctx context.Context, ticker string, f store.DividendFilter) ([]domain.Dividend, error) {
	return g.listDividends(ctx, &ticker, f)
}

func (g *Gateway) ListAllDividends(ctx context.Context, f store.DividendFilter) ([]domain.Dividend, error) {
	return g.listDividends(ctx, nil, f)
}

func (g *Gateway) listDividends(ctx context.Context, ticker *string, f store.DividendFilter) ([]domain.Dividend, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `SELECT ` + dividendColumns + ` FROM dividends WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if ticker != nil {
		q += " AND ticker = " + arg(*ticker)
	}
	if f.StartDate != nil {
		q += " AND ex_dividend_date >= " + arg(*f.StartDate)
	}
	if f.EndDate != nil {
		q += " AND ex_dividend_date <= " + arg(*f.EndDate)
	}
	q += " ORDER BY ex_dividend_date DESC LIMIT " + arg(limit) + " OFFSET " + arg(f.Offset)

	rows, err := g.db.pool().Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list dividends", err)
	}
	defer rows.Close()

	var out []domain.Dividend
	for rows.Next() {
		d, err := scanDividend(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan dividend", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDividend(row pgx.Rows) (domain.Dividend, error) {
	var d domain.Dividend
	var amount string
	var decl, rec, pay *time.Time
	if err := row.Scan(
		&d.Ticker, &decl, &rec, &d.ExDividendDate, &pay,
		&amount, &d.Currency, &d.Frequency, &d.Type, &d.PolygonID, &d.DataSource,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return domain.Dividend{}, err
	}
	d.DeclarationDate, d.RecordDate, d.PayDate = decl, rec, pay
	amt, err := money.Parse(amount)
	if err != nil {
		return domain.Dividend{}, err
	}
	d.Amount = amt
	return d, nil
}
