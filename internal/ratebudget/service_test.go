package ratebudget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/domain"
	"github.com/aristath/dividend-ingest/internal/store/storetest"
)

func TestService_CheckAndReserve_LocalLimiterBurst(t *testing.T) {
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(gw, clk)

	for i := 0; i < domain.PolygonMinuteLimit; i++ {
		decision, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
		require.NoError(t, err)
		assert.True(t, decision.Admitted, "call %d should be admitted within burst", i)
	}

	// the burst is exhausted: the local limiter must reject before ever
	// consulting the store, even though the fake gw would admit.
	decision, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Greater(t, decision.WaitMs, int64(0))
}

func TestService_CheckAndReserve_AdmitsAgainAfterMinuteBoundary(t *testing.T) {
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(gw, clk)

	for i := 0; i < domain.PolygonMinuteLimit; i++ {
		_, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
		require.NoError(t, err)
	}
	denied, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
	require.NoError(t, err)
	require.False(t, denied.Admitted)

	clk.Advance(time.Minute)
	admitted, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
	require.NoError(t, err)
	assert.True(t, admitted.Admitted)
}

func TestService_CheckAndReserve_DefersToStoreBudget(t *testing.T) {
	gw := storetest.New()
	gw.BudgetAdmitted = false
	gw.BudgetWaitMs = 4500
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(gw, clk)

	decision, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, int64(4500), decision.WaitMs)
}

func TestService_TimeUntilNextCall_DoesNotConsumeToken(t *testing.T) {
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(gw, clk)

	delay := svc.TimeUntilNextCall(domain.PolygonService)
	assert.Equal(t, time.Duration(0), delay)

	// confirm the reservation made by TimeUntilNextCall was cancelled: a
	// full burst of admits should still succeed afterward.
	for i := 0; i < domain.PolygonMinuteLimit; i++ {
		decision, err := svc.CheckAndReserve(context.Background(), domain.PolygonService)
		require.NoError(t, err)
		assert.True(t, decision.Admitted)
	}
}

func TestService_RecordCall_StampsCreatedAt(t *testing.T) {
	gw := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(gw, clk)

	err := svc.RecordCall(context.Background(), domain.CallLog{ServiceName: domain.PolygonService})
	assert.NoError(t, err)
}
