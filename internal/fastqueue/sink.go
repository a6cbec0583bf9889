// Package fastqueue collapses the source's mixed "Cloudflare Queue over
// HTTP" / "native Cloudflare Queue" fallbacks into a single FastQueue sink
// abstraction (§9), with one concrete production implementation and an
// in-process fallback to the standard job queue.
package fastqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is the payload posted to the fast-queue sink (§4.8 step 3): a
// batch of symbols destined for immediate backfill.
type Message struct {
	Tickers  []string `json:"tickers"`
	Priority int      `json:"priority"`
	Force    bool     `json:"force"`
}

// Sink is the abstraction every caller depends on. Dispatch returning an
// error signals the caller should fall back to the standard job queue
// (§4.8 step 3).
type Sink interface {
	Dispatch(ctx context.Context, msg Message) error
}

// HTTPSink posts to a configured queue URL (the production implementation,
// matching the teacher's outbound webhook-style calls).
type HTTPSink struct {
	URL        string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewHTTPSink(url string, log zerolog.Logger) *HTTPSink {
	return &HTTPSink{URL: url, httpClient: &http.Client{Timeout: 5 * time.Second}, log: log}
}

func (s *HTTPSink) Dispatch(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

type StatusError struct{ Status int }

func (e *StatusError) Error() string { return http.StatusText(e.Status) }

// Disabled is used when CLOUDFLARE_WORKER_QUEUE_URL is unset: every
// Dispatch fails immediately so callers take the standard-queue fallback
// path described in §4.8 step 3.
type Disabled struct{}

func (Disabled) Dispatch(ctx context.Context, msg Message) error {
	return &StatusError{Status: http.StatusNotImplemented}
}

// New picks HTTPSink when url is configured, Disabled otherwise.
func New(url string, log zerolog.Logger) Sink {
	if url == "" {
		return Disabled{}
	}
	return NewHTTPSink(url, log)
}
