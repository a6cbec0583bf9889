package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/fastqueue"
	"github.com/aristath/dividend-ingest/internal/jobmanager"
	"github.com/aristath/dividend-ingest/internal/money"
	"github.com/aristath/dividend-ingest/internal/ratebudget"
	"github.com/aristath/dividend-ingest/internal/routing"
	"github.com/aristath/dividend-ingest/internal/store/storetest"
)

// alwaysFailSink mirrors fastqueue.Disabled: every Dispatch fails, forcing
// the bulk-lane fallback path.
type alwaysFailSink struct{}

func (alwaysFailSink) Dispatch(ctx context.Context, msg fastqueue.Message) error {
	return &fastqueue.StatusError{Status: http.StatusNotImplemented}
}

// recordingSink always succeeds and remembers what it was asked to dispatch.
type recordingSink struct {
	dispatched []fastqueue.Message
}

func (s *recordingSink) Dispatch(ctx context.Context, msg fastqueue.Message) error {
	s.dispatched = append(s.dispatched, msg)
	return nil
}

func newTestServer(t *testing.T, sink fastqueue.Sink) (*Server, *storetest.Fake, *clock.Fixed) {
	t.Helper()
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gw.Now = clk.Now

	if sink == nil {
		sink = alwaysFailSink{}
	}

	s := New(Config{
		Addr:            ":0",
		Gateway:         gw,
		Jobs:            jobmanager.New(gw, clk),
		Budget:          ratebudget.New(gw, clk),
		Oracle:          routing.New(),
		FastQueue:       sink,
		Clock:           clk,
		Log:             zerolog.Nop(),
		DefaultKeyQuota: 100,
		DevMode:         true,
	})
	return s, gw, clk
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func registerUser(gw *storetest.Fake, apiKey string, active bool) domain.ApiUser {
	user := domain.ApiUser{ID: apiKey, APIKey: apiKey, IsActive: active, RateLimitPerHour: 3, MaxSubscriptions: 50}
	gw.Users[apiKey] = user
	return user
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, "dividend-ingest", body["service"])
	assert.NotEmpty(t, body["version"])
}

func TestAuth_MissingKeyRejected(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_MalformedKeyRejected(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "not-a-valid-key")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InactiveUserRejected(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_inactive123", false)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "tk_inactive123")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_BearerTokenAccepted(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_bearer12345", true)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer tk_bearer12345")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_RejectsOverLimitAndSetsHeaders(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_ratelimited1", true) // RateLimitPerHour: 3

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("X-API-Key", "tk_ratelimited1")
		last = doRequest(s, req)
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "3", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestUpdateTickers_NormalModeCommitsSynchronously(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_normalmode12", true)

	body, err := json.Marshal(updateTickersRequest{Tickers: []string{"AAPL"}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/update-tickers", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "tk_normalmode12")
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp updateTickersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Routing, 1)
	assert.Equal(t, routing.ReasonNewTicker, resp.Routing[0].Reason)
	assert.NotEmpty(t, resp.FastQueueError, "alwaysFailSink always fails, so dispatch must report an error")
	assert.Equal(t, 0, resp.Counts.Fast)
	assert.Equal(t, 1, resp.Counts.Bulk, "the failed fast-lane dispatch must fall back into the bulk lane")
	assert.NotEmpty(t, resp.JobID, "fallback to bulk lane must create a job")

	// the commit happened synchronously: the ticker row already exists.
	_, err = gw.GetTicker(context.Background(), "AAPL")
	assert.NoError(t, err)
}

func TestUpdateTickers_FastModeRespondsBeforeCommitting(t *testing.T) {
	sink := &recordingSink{}
	s, gw, _ := newTestServer(t, sink)
	registerUser(gw, "tk_fastmode1234", true)

	body, err := json.Marshal(updateTickersRequest{Tickers: []string{"AAPL"}, Fast: true})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/update-tickers", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "tk_fastmode1234")
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp updateTickersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Routing, 1)
	assert.Equal(t, "AAPL", resp.Routing[0].Ticker)
}

func TestUpdateTickers_ValidationRejectsEmptyTickers(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_validation12", true)

	body, err := json.Marshal(updateTickersRequest{Tickers: nil})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/update-tickers", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "tk_validation12")
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobStatus_SurfacesProcessingCount(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_jobstatus123", true)
	job, err := gw.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL", "MSFT"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Enqueue(context.Background(), job.ID, []string{"AAPL", "MSFT"}, domain.PriorityNormal, false))

	_, err = gw.LeaseQueueItems(context.Background(), 1, "worker-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/job-status/"+job.ID, nil)
	req.Header.Set("X-API-Key", "tk_jobstatus123")
	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Progress.Processing)
	assert.Equal(t, 2, resp.Progress.Remaining)
}

func TestUpdateTickers_AllInvalidTickersRejected(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_allinvalid12", true)

	body, err := json.Marshal(updateTickersRequest{Tickers: []string{"!!!", "???"}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/update-tickers", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "tk_allinvalid12")
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a non-empty but all-invalid ticker list must not silently succeed")
}

func TestCancelJob_PendingSucceeds(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_cancelpend12", true)
	job, err := gw.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/jobs?jobId="+job.ID, nil)
	req.Header.Set("X-API-Key", "tk_cancelpend12")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelJob_NonPendingReturns400(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_cancelnonp12", true)
	job, err := gw.CreateJob(context.Background(), domain.JobTypeDividendUpdate, []string{"AAPL"}, domain.PriorityNormal, false, nil)
	require.NoError(t, err)
	require.NoError(t, gw.TransitionJobProcessing(context.Background(), job.ID))

	req := httptest.NewRequest(http.MethodDelete, "/jobs?jobId="+job.ID, nil)
	req.Header.Set("X-API-Key", "tk_cancelnonp12")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDividends_CSVContentNegotiation(t *testing.T) {
	s, gw, _ := newTestServer(t, nil)
	registerUser(gw, "tk_csvnegotiat1", true)
	_, err := gw.UpsertTicker(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = gw.UpsertDividends(context.Background(), "AAPL", []domain.Dividend{{
		ExDividendDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:         money.MustParse("0.25"),
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/dividends/AAPL?format=csv", nil)
	req.Header.Set("X-API-Key", "tk_csvnegotiat1")
	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	jsonReq := httptest.NewRequest(http.MethodGet, "/dividends/AAPL", nil)
	jsonReq.Header.Set("X-API-Key", "tk_csvnegotiat1")
	jsonRec := doRequest(s, jsonReq)
	require.Equal(t, http.StatusOK, jsonRec.Code)
	assert.Contains(t, jsonRec.Header().Get("Content-Type"), "application/json")
}
