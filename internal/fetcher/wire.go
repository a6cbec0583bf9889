package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/money"
)

// wireRecord mirrors the provider's /v3/reference/dividends JSON shape.
type wireRecord struct {
	Ticker          string `json:"ticker"`
	CashAmount      string `json:"cash_amount"`
	Currency        string `json:"currency"`
	DeclarationDate string `json:"declaration_date"`
	ExDividendDate  string `json:"ex_dividend_date"`
	RecordDate      string `json:"record_date"`
	PayDate         string `json:"pay_date"`
	Frequency       int    `json:"frequency"`
	DividendType    string `json:"dividend_type"`
	ID              string `json:"id"`
}

type wireResponse struct {
	Results []wireRecord `json:"results"`
	NextURL string       `json:"next_url"`
}

// doFetch performs one single-page fetch for a single ticker over the
// given range; the response's next_url is not followed.
func (c *Client) doFetch(ctx context.Context, ticker string, r DateRange) ([]domain.Dividend, int, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("ex_dividend_date.gte", r.From.Format("2006-01-02"))
	q.Set("ex_dividend_date.lte", r.To.Format("2006-01-02"))
	q.Set("apiKey", c.apiKey)

	resp, status, err := c.get(ctx, c.baseURL+"/v3/reference/dividends?"+q.Encode())
	if err != nil {
		return nil, status, err
	}
	if status == http.StatusTooManyRequests {
		return nil, status, RateLimited{WaitMs: 0}
	}
	if taxErr := classifyStatus(status); taxErr != nil {
		return nil, status, taxErr
	}

	records := transformRecords(ticker, resp.Results)
	return records, status, nil
}

func (c *Client) doFetchBulkPage(ctx context.Context, daysBack, pageSize int, cursor string) ([]domain.Dividend, string, int, error) {
	reqURL := cursor
	if reqURL == "" {
		now := c.clock.Now()
		q := url.Values{}
		q.Set("ex_dividend_date.gte", now.AddDate(0, 0, -daysBack).Format("2006-01-02"))
		q.Set("order", "asc")
		q.Set("sort", "ex_dividend_date")
		q.Set("limit", fmt.Sprintf("%d", pageSize))
		q.Set("apiKey", c.apiKey)
		reqURL = c.baseURL + "/v3/reference/dividends?" + q.Encode()
	}

	resp, status, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, "", status, err
	}
	if status == http.StatusTooManyRequests {
		return nil, "", status, nil
	}
	if taxErr := classifyStatus(status); taxErr != nil {
		return nil, "", status, taxErr
	}

	records := transformRecords("", resp.Results)
	return records, resp.NextURL, status, nil
}

func (c *Client) get(ctx context.Context, reqURL string) (wireResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return wireResponse{}, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wireResponse{}, 0, Transient{Status: 0, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wireResponse{}, resp.StatusCode, Transient{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return wireResponse{}, resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return wireResponse{}, resp.StatusCode, nil
	}

	var parsed wireResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return wireResponse{}, resp.StatusCode, Transient{Status: resp.StatusCode, Err: err}
	}
	return parsed, resp.StatusCode, nil
}

// transformRecords projects wire records to the internal model, applying
// §4.3's explicit defaults. Records with a non-positive or missing amount
// produce a per-record validation error rather than aborting the batch —
// Validate() surfaces that; here a record with an unparsable amount is kept
// with a zero amount (Store Gateway performs the authoritative amount>0
// check). Records with an unparsable ex_dividend_date are skipped.
func transformRecords(fallbackTicker string, wire []wireRecord) []domain.Dividend {
	out := make([]domain.Dividend, 0, len(wire))
	for _, w := range wire {
		ticker := w.Ticker
		if ticker == "" {
			ticker = fallbackTicker
		}

		exDate, err := time.Parse("2006-01-02", w.ExDividendDate)
		if err != nil {
			continue // missing ex_dividend_date => rejected per §3
		}

		amt, err := money.Parse(w.CashAmount)
		if err != nil {
			amt = money.Zero() // non-positive/unparsable => rejected by Validate()
		}

		d := domain.Dividend{
			Ticker:         ticker,
			ExDividendDate: exDate,
			Amount:         amt,
			Currency:       w.Currency,
			Frequency:      w.Frequency,
			Type:           w.DividendType,
			PolygonID:      w.ID,
			DataSource:     domain.DefaultDataSource,
		}
		if t, err := time.Parse("2006-01-02", w.DeclarationDate); err == nil {
			d.DeclarationDate = &t
		}
		if t, err := time.Parse("2006-01-02", w.RecordDate); err == nil {
			d.RecordDate = &t
		}
		if t, err := time.Parse("2006-01-02", w.PayDate); err == nil {
			d.PayDate = &t
		}

		out = append(out, d.WithDefaults())
	}
	return out
}
