package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/fastqueue"
	"github.com/aristath/dividend-ingest/internal/fetcher"
	"github.com/aristath/dividend-ingest/internal/routing"
)

// tickerRoute pairs a normalized symbol with the Routing Oracle's decision
// for it (§4.4, consulted before the ticker row upsert per §4.8 step 2-3).
type tickerRoute struct {
	symbol   string
	decision routing.Decision
}

// routeTickers implements §4.8 step 1: normalize each input symbol, skip
// invalid ones, and ask the Routing Oracle for each valid one.
func (s *Server) routeTickers(ctx context.Context, raw []string) []tickerRoute {
	routes := make([]tickerRoute, 0, len(raw))
	now := s.clock.Now()
	for _, r := range raw {
		symbol, ok := domain.NormalizeSymbol(r)
		if !ok {
			continue
		}
		ticker, err := s.gw.GetTicker(ctx, symbol)
		var decision routing.Decision
		switch {
		case err != nil && !isNotFound(err):
			decision = s.oracle.DecideOnError(err)
		case err != nil:
			decision = s.oracle.Decide(nil, now)
		default:
			decision = s.oracle.Decide(&ticker, now)
		}
		routes = append(routes, tickerRoute{symbol: symbol, decision: decision})
	}
	return routes
}

// commitRouting implements §4.8 steps 2-4: upsert every routed ticker,
// dispatch the fast-queue batch (falling back to the standard path on
// dispatch failure), and create a job for the bulk lane.
func (s *Server) commitRouting(ctx context.Context, routes []tickerRoute, priority domain.Priority, force bool) (updateTickersResponse, error) {
	resp := updateTickersResponse{Routing: make([]routingOutcome, 0, len(routes))}

	var fastLane, bulkLane []string
	for _, route := range routes {
		lane := "bulk"
		if route.decision.Lane == routing.FastQueue {
			lane = "fast"
		}
		resp.Routing = append(resp.Routing, routingOutcome{
			Ticker: route.symbol,
			Lane:   lane,
			Reason: route.decision.Reason,
		})
		if _, err := s.gw.UpsertTicker(ctx, route.symbol); err != nil {
			return resp, err
		}
		if route.decision.Lane == routing.FastQueue {
			fastLane = append(fastLane, route.symbol)
		} else {
			bulkLane = append(bulkLane, route.symbol)
		}
	}

	if len(fastLane) > 0 {
		err := s.fastQueue.Dispatch(ctx, fastqueue.Message{
			Tickers:  fastLane,
			Priority: int(domain.PriorityHigh),
			Force:    force,
		})
		if err != nil {
			resp.FastQueueError = err.Error()
			bulkLane = append(bulkLane, fastLane...)
		} else {
			resp.FastQueued = fastLane
		}
	}

	resp.Counts = laneCounts{Fast: len(resp.FastQueued), Bulk: len(bulkLane)}

	if len(bulkLane) > 0 {
		job, err := s.jobs.CreateJob(ctx, domain.JobTypeDividendUpdate, bulkLane, priority, force, nil)
		if err != nil {
			return resp, err
		}
		resp.JobID = job.ID
	}

	return resp, nil
}

// handleUpdateTickers is the update-tickers entry point (§4.8).
func (s *Server) handleUpdateTickers(w http.ResponseWriter, r *http.Request) {
	var req updateTickersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	priority := domain.PriorityNormal
	if req.Priority != nil {
		priority = domain.Priority(*req.Priority)
	}

	routes := s.routeTickers(r.Context(), req.Tickers)
	if len(routes) == 0 {
		s.writeError(w, http.StatusBadRequest, "validation", "no valid ticker symbols in request")
		return
	}

	// §4.8 step 5: fast mode (explicit flag or a large batch) acknowledges
	// immediately and finishes steps 2-4 in the background, so the handler
	// never suspends past the ~10s budget in §5.
	if req.Fast || len(req.Tickers) > 20 {
		go func() {
			if _, err := s.commitRouting(context.Background(), routes, priority, req.Force); err != nil {
				s.log.Error().Err(err).Msg("background update-tickers commit failed")
			}
		}()
		ack := updateTickersResponse{Routing: make([]routingOutcome, 0, len(routes))}
		for _, route := range routes {
			lane := "bulk"
			if route.decision.Lane == routing.FastQueue {
				lane = "fast"
			}
			ack.Routing = append(ack.Routing, routingOutcome{Ticker: route.symbol, Lane: lane, Reason: route.decision.Reason})
			if lane == "fast" {
				ack.Counts.Fast++
			} else {
				ack.Counts.Bulk++
			}
		}
		s.writeJSON(w, http.StatusAccepted, ack)
		return
	}

	resp, err := s.commitRouting(r.Context(), routes, priority, req.Force)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

// handleProcess is the single-ticker synchronous fetch path (§6.1's
// POST /process), bypassing the queue: fetch now, upsert now, respond now.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	symbol, ok := domain.NormalizeSymbol(req.Ticker)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation", "invalid ticker symbol")
		return
	}
	if _, err := s.gw.UpsertTicker(r.Context(), symbol); err != nil {
		s.writeAppError(w, err)
		return
	}

	kind := fetcher.Historical
	dateRange := s.fetcher.HistoricalRange()
	if req.FetchType == "recent" {
		kind = fetcher.Recent
		dateRange = s.fetcher.RecentRange()
	}

	records, err := s.fetcher.FetchDividends(r.Context(), symbol, dateRange, kind)
	if err != nil {
		if rl, ok := err.(fetcher.RateLimited); ok {
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate_limited", "waitMs": rl.WaitMs})
			return
		}
		s.writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	summary, err := s.gw.UpsertDividends(r.Context(), symbol, records)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	_ = s.gw.TouchLastDividendUpdate(r.Context(), symbol, s.clock.Now())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ticker":  symbol,
		"fetched": len(records),
		"summary": summary,
	})
}
