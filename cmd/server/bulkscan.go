package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/dividend-ingest/internal/di"
	"github.com/aristath/dividend-ingest/internal/domain"
)

// bulkScanJob invokes the Upstream Fetcher's fetchBulkRecent and files the
// results through the Store Gateway, grouped by ticker (§9 Open Question:
// "retained here as a capability to be invoked by a future scheduler").
type bulkScanJob struct {
	container *di.Container
	log       zerolog.Logger
}

func (j *bulkScanJob) Name() string { return "bulk_recent_scan" }

func (j *bulkScanJob) Run(ctx context.Context) error {
	records, err := j.container.Fetcher.FetchBulkRecent(ctx, 2, 1000)
	if err != nil {
		return err
	}

	byTicker := make(map[string][]domain.Dividend, len(records))
	for _, d := range records {
		byTicker[d.Ticker] = append(byTicker[d.Ticker], d)
	}

	for symbol, group := range byTicker {
		if _, err := j.container.Gateway.UpsertTicker(ctx, symbol); err != nil {
			j.log.Warn().Err(err).Str("ticker", symbol).Msg("bulk scan: ticker upsert failed")
			continue
		}
		summary, err := j.container.Gateway.UpsertDividends(ctx, symbol, group)
		if err != nil {
			j.log.Warn().Err(err).Str("ticker", symbol).Msg("bulk scan: dividend upsert failed")
			continue
		}
		_ = j.container.Gateway.TouchLastDividendUpdate(ctx, symbol, j.container.Clock.Now())
		j.log.Info().Str("ticker", symbol).Int("inserted", summary.Inserted).Int("errors", summary.Errors).Msg("bulk scan upserted")
	}

	return nil
}
