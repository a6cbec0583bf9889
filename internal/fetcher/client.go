// Package fetcher is the Upstream Fetcher (§4.3): a rate-limited client for
// the dividend provider's /v3/reference/dividends resource, grounded on the
// teacher's tradernet SDK client (internal/clients/tradernet/sdk/client.go)
// — a channel-queued single worker enforcing inter-request spacing — here
// adapted to consult the shared ratebudget.Service instead of a fixed
// per-request sleep, since the budget is shared with every other caller
// of the upstream service.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/ratebudget"
)

// Kind distinguishes the two fetch shapes of §4.3.
type Kind int

const (
	Historical Kind = iota
	Recent
)

// DateRange bounds a fetch, §4.3's historical/recent defaults.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Client is the Upstream Fetcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	budget     *ratebudget.Service
	clock      clock.Clock
	log        zerolog.Logger
}

// Config configures a Client. APIKey absence is a Fatal configuration
// error enforced by config.Load, not re-checked here.
type Config struct {
	BaseURL string
	APIKey  string
}

func New(cfg Config, budget *ratebudget.Service, clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second}, // §5: upstream HTTP timeout 10s
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		budget:     budget,
		clock:      clk,
		log:        log,
	}
}

// HistoricalRange is today-2y..today+6mo (§4.3).
func (c *Client) HistoricalRange() DateRange {
	now := c.clock.Now()
	return DateRange{From: now.AddDate(-2, 0, 0), To: now.AddDate(0, 6, 0)}
}

// RecentRange is today-Ndays..today+3mo, N≈2 (§4.3).
func (c *Client) RecentRange() DateRange {
	now := c.clock.Now()
	return DateRange{From: now.AddDate(0, 0, -2), To: now.AddDate(0, 3, 0)}
}

// FetchDividends is §4.3's fetchDividends. Every call first consults
// checkAndReserve; on RateLimited it fails without contacting the
// provider at all.
func (c *Client) FetchDividends(ctx context.Context, ticker string, r DateRange, kind Kind) ([]domain.Dividend, error) {
	decision, err := c.budget.CheckAndReserve(ctx, domain.PolygonService)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "check rate budget", err)
	}
	if !decision.Admitted {
		return nil, RateLimited{WaitMs: decision.WaitMs}
	}

	start := c.clock.Now()
	var records []domain.Dividend
	var status int
	err = withRetry(ctx, func() error {
		var retryErr error
		records, status, retryErr = c.doFetch(ctx, ticker, r)
		if retryErr == nil {
			return nil
		}
		if _, transient := retryErr.(Transient); transient {
			return retryErr // retryable
		}
		return backoff.Permanent(retryErr)
	})
	elapsed := c.clock.Now().Sub(start)

	c.recordCall(ctx, "/v3/reference/dividends", ticker, status, elapsed, err)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, err
	}
	return records, nil
}

// FetchBulkRecent is §4.3's ordered-ascending paginated scan: sleeps
// 60000/5ms between pages to respect the budget, and on HTTP 429 sleeps
// 60s and retries the same page.
func (c *Client) FetchBulkRecent(ctx context.Context, daysBack, pageSize int) ([]domain.Dividend, error) {
	if daysBack <= 0 {
		daysBack = 2
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	var all []domain.Dividend
	cursor := ""
	for {
		page, nextCursor, status, err := c.fetchBulkPage(ctx, daysBack, pageSize, cursor)
		if status == http.StatusTooManyRequests {
			c.log.Warn().Msg("upstream 429 on bulk scan, sleeping 60s and retrying page")
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(domain.BulkScan429Sleep):
			}
			continue
		}
		if err != nil {
			return all, err
		}

		all = append(all, page...)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(domain.BulkScanPageSleep):
		}
	}
	return all, nil
}

func (c *Client) fetchBulkPage(ctx context.Context, daysBack, pageSize int, cursor string) ([]domain.Dividend, string, int, error) {
	decision, err := c.budget.CheckAndReserve(ctx, domain.PolygonService)
	if err != nil {
		return nil, "", 0, apperr.Wrap(apperr.Transient, "check rate budget", err)
	}
	if !decision.Admitted {
		return nil, "", 0, RateLimited{WaitMs: decision.WaitMs}
	}

	start := c.clock.Now()
	records, next, status, err := c.doFetchBulkPage(ctx, daysBack, pageSize, cursor)
	elapsed := c.clock.Now().Sub(start)
	c.recordCall(ctx, "/v3/reference/dividends?bulk", "", status, elapsed, err)
	return records, next, status, err
}

func (c *Client) recordCall(ctx context.Context, endpoint, ticker string, status int, elapsed time.Duration, callErr error) {
	entry := domain.CallLog{
		ServiceName:    domain.PolygonService,
		Endpoint:       endpoint,
		TickerSymbol:   ticker,
		ResponseStatus: status,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}
	if err := c.budget.RecordCall(ctx, entry); err != nil {
		c.log.Warn().Err(err).Msg("failed to record call log")
	}
}

// withRetry wraps a transient-prone operation with cenkalti/backoff,
// capped so callers still see a bounded per-request budget (§5: per-item
// processing budget 30s soft).
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(op, b)
}

// RateLimited, Unauthorized, Transient, Invalid are §4.3's error taxonomy.
type RateLimited struct{ WaitMs int64 }

func (e RateLimited) Error() string { return fmt.Sprintf("rate limited, retry after %dms", e.WaitMs) }

type Unauthorized struct{ Status int }

func (e Unauthorized) Error() string { return fmt.Sprintf("unauthorized: status %d", e.Status) }

type Transient struct{ Status int; Err error }

func (e Transient) Error() string { return fmt.Sprintf("transient upstream error: status %d: %v", e.Status, e.Err) }
func (e Transient) Unwrap() error { return e.Err }

type Invalid struct{ Status int }

func (e Invalid) Error() string { return fmt.Sprintf("invalid request: status %d", e.Status) }

// classifyStatus maps an HTTP status to the §4.3 error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return nil // handled by caller-specific 429 logic
	case status == http.StatusForbidden:
		return Unauthorized{Status: status}
	case status >= 500:
		return Transient{Status: status}
	case status >= 400:
		return Invalid{Status: status}
	default:
		return nil
	}
}
