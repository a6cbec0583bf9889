// Package ratebudget implements the Clock & Rate Budget component (§4.1):
// admission control for named upstream services, backed by the Store
// Gateway's atomic compare-and-update, with a process-local golang.org/x/
// time/rate limiter layered in front as a fast path so a worker that
// already knows it is exhausted doesn't pay a DB round trip to find out.
package ratebudget

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store"
)

// Decision mirrors §4.1's checkAndReserve result.
type Decision struct {
	Admitted bool
	WaitMs   int64
}

type Service struct {
	gw    store.Gateway
	clock clock.Clock

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(gw store.Gateway, clk clock.Clock) *Service {
	return &Service{gw: gw, clock: clk, limiters: make(map[string]*rate.Limiter)}
}

func (s *Service) localLimiter(service string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[service]
	if !ok {
		// 5 calls/min, burst 5 — mirrors the canonical polygon limit
		// (§4.1); other services default to the same shape unless
		// distinguished later.
		l = rate.NewLimiter(rate.Every(time.Minute/domain.PolygonMinuteLimit), domain.PolygonMinuteLimit)
		s.limiters[service] = l
	}
	return l
}

// CheckAndReserve is §4.1's operation. The local limiter is consulted
// first (cheap, in-process); the store's atomic counters remain the
// source of truth and are always consulted too, because the local limiter
// alone can't coordinate across multiple worker instances (§5).
func (s *Service) CheckAndReserve(ctx context.Context, service string) (Decision, error) {
	now := s.clock.Now()

	if !s.localLimiter(service).AllowN(now, 1) {
		// Fast rejection without a DB round trip; wait estimate is
		// intentionally conservative (to the next minute boundary).
		return Decision{Admitted: false, WaitMs: clock.TruncateMinute(now).Add(time.Minute).Sub(now).Milliseconds()}, nil
	}

	admitted, waitMs, err := s.gw.CheckAndReserveBudget(ctx, service, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Admitted: admitted, WaitMs: waitMs}, nil
}

// RecordCall persists a CallLog. Failures here MUST NOT affect admission
// decisions (§4.1); callers should log-and-continue on error.
func (s *Service) RecordCall(ctx context.Context, log domain.CallLog) error {
	log.CreatedAt = s.clock.Now()
	return s.gw.RecordCall(ctx, log)
}

// TimeUntilNextCall is a read-only estimate (§4.1).
func (s *Service) TimeUntilNextCall(service string) time.Duration {
	r := s.localLimiter(service).Reserve()
	delay := r.Delay()
	r.Cancel()
	return delay
}
