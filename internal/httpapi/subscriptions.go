package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/fastqueue"
	"github.com/aristath/dividend-ingest/internal/routing"
)

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	subs, err := s.gw.ListSubscriptions(r.Context(), user.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, subs)
}

// triggerBackfill implements the "triggers a backfill request for ticker
// via the Ingestion Handler path (fast queue)" clause of §4.9: the same
// Routing Oracle + fast-queue dispatch the Ingestion Handler uses, run for
// exactly one symbol.
func (s *Server) triggerBackfill(ctx context.Context, symbol string) {
	ticker, err := s.gw.GetTicker(ctx, symbol)
	var decision routing.Decision
	if err != nil {
		if isNotFound(err) {
			decision = s.oracle.Decide(nil, s.clock.Now())
		} else {
			decision = s.oracle.DecideOnError(err)
		}
	} else {
		decision = s.oracle.Decide(&ticker, s.clock.Now())
	}

	if decision.Lane == routing.FastQueue {
		err := s.fastQueue.Dispatch(ctx, fastqueue.Message{Tickers: []string{symbol}, Priority: int(domain.PriorityHigh)})
		if err == nil {
			return
		}
		// fall through to the standard path on dispatch failure
	}

	if _, err := s.jobs.CreateJob(ctx, domain.JobTypeDividendUpdate, []string{symbol}, domain.PriorityNormal, false, nil); err != nil {
		s.log.Warn().Err(err).Str("ticker", symbol).Msg("subscription backfill enqueue failed")
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req subscribeRequest
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
	priority := req.Priority
	if priority == 0 {
		priority = 1
	}

	sub, err := s.gw.Subscribe(r.Context(), user.ID, symbol, priority)
	if err != nil {
		if apperr.Is(err, apperr.Conflict) {
			s.writeError(w, http.StatusBadRequest, string(apperr.Conflict), err.Error())
			return
		}
		s.writeAppError(w, err)
		return
	}

	_ = s.gw.AppendSubscriptionActivity(r.Context(), domain.SubscriptionActivity{
		UserID:       user.ID,
		TickerSymbol: symbol,
		Action:       "subscribe",
	})

	go s.triggerBackfill(context.Background(), symbol)

	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	symbol, ok := domain.NormalizeSymbol(req.Ticker)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation", "invalid ticker symbol")
		return
	}

	if err := s.gw.Unsubscribe(r.Context(), user.ID, symbol); err != nil {
		s.writeAppError(w, err)
		return
	}
	_ = s.gw.AppendSubscriptionActivity(r.Context(), domain.SubscriptionActivity{
		UserID:       user.ID,
		TickerSymbol: symbol,
		Action:       "unsubscribe",
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"ticker": symbol, "status": "unsubscribed"})
}

// handleBulkSubscribe implements §4.9's bulk endpoint: per-ticker atomic
// apply, aggregate cap check happens inside each Subscribe call.
func (s *Server) handleBulkSubscribe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req bulkSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	outcomes := make([]bulkOutcome, 0, len(req.Tickers))
	for _, raw := range req.Tickers {
		symbol, ok := domain.NormalizeSymbol(raw)
		if !ok {
			outcomes = append(outcomes, bulkOutcome{Ticker: raw, Success: false, Error: "invalid ticker symbol"})
			continue
		}

		var err error
		switch req.Action {
		case "subscribe":
			priority := req.Priority
			if priority == 0 {
				priority = 1
			}
			_, err = s.gw.Subscribe(r.Context(), user.ID, symbol, priority)
			if err == nil {
				go s.triggerBackfill(context.Background(), symbol)
			}
		case "unsubscribe":
			err = s.gw.Unsubscribe(r.Context(), user.ID, symbol)
		}

		if err != nil {
			outcomes = append(outcomes, bulkOutcome{Ticker: symbol, Success: false, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, bulkOutcome{Ticker: symbol, Success: true})
		_ = s.gw.AppendSubscriptionActivity(r.Context(), domain.SubscriptionActivity{
			UserID:       user.ID,
			TickerSymbol: symbol,
			Action:       "bulk_" + req.Action,
		})
	}

	s.writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handleSubscriptionActivity(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	activity, err := s.gw.ListSubscriptionActivity(r.Context(), user.ID, limit, offset)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, activity)
}
