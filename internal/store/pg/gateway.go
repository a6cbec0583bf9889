package pg

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/dividend-ingest/internal/clock"
)

// Gateway implements store.Gateway over Postgres.
type Gateway struct {
	db    *DB
	clock clock.Clock
	log   zerolog.Logger
}

// NewGateway wires a Gateway over an already-open DB.
func NewGateway(db *DB, clk clock.Clock, log zerolog.Logger) *Gateway {
	return &Gateway{db: db, clock: clk, log: log}
}

// Ping verifies the underlying connection pool.
func (g *Gateway) Ping(ctx context.Context) error { return g.db.Ping(ctx) }

// Close releases the underlying connection pool.
func (g *Gateway) Close() { g.db.Close() }

func newID() string { return uuid.NewString() }
