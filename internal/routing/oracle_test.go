package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/dividend-ingest/internal/domain"
)

func TestOracle_Decide(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ticker     *domain.Ticker
		wantLane   Lane
		wantReason Reason
	}{
		{
			name:       "absent ticker routes fast as new",
			ticker:     nil,
			wantLane:   FastQueue,
			wantReason: ReasonNewTicker,
		},
		{
			name: "never updated but recently created routes fast",
			ticker: &domain.Ticker{
				Symbol:    "NEW",
				CreatedAt: now.Add(-10 * time.Minute),
			},
			wantLane:   FastQueue,
			wantReason: ReasonRecentlyCreated,
		},
		{
			name: "never updated and old routes fast as no data",
			ticker: &domain.Ticker{
				Symbol:    "OLD",
				CreatedAt: now.Add(-48 * time.Hour),
			},
			wantLane:   FastQueue,
			wantReason: ReasonNoDividendData,
		},
		{
			name: "updated within 24h routes bulk as recent",
			ticker: &domain.Ticker{
				Symbol:             "MSFT",
				CreatedAt:          now.Add(-365 * 24 * time.Hour),
				LastDividendUpdate: timePtr(now.Add(-1 * time.Hour)),
			},
			wantLane:   Bulk,
			wantReason: ReasonRecentExisting,
		},
		{
			name: "updated over 24h ago routes bulk as stale",
			ticker: &domain.Ticker{
				Symbol:             "AAPL",
				CreatedAt:          now.Add(-365 * 24 * time.Hour),
				LastDividendUpdate: timePtr(now.Add(-48 * time.Hour)),
			},
			wantLane:   Bulk,
			wantReason: ReasonStaleExisting,
		},
	}

	oracle := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := oracle.Decide(tt.ticker, now)
			assert.Equal(t, tt.wantLane, decision.Lane)
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}
}

func TestOracle_DecideOnError(t *testing.T) {
	decision := New().DecideOnError(errors.New("store unavailable"))
	assert.Equal(t, FastQueue, decision.Lane)
	assert.Equal(t, ReasonErrorFallback, decision.Reason)
}

func timePtr(t time.Time) *time.Time { return &t }
