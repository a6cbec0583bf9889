// Package routing implements the Routing Oracle (§4.4): a pure function of
// ticker state, not request volume, deciding whether a ticker needs an
// immediate fast-queue backfill or a deferred bulk update.
//
// No direct teacher analogue exists for this component (§9 calls for it as
// a new leaf interface to break the import cycle the source had between
// queue sender and store); it is styled after the teacher's small
// pure-function condition helpers (internal/work/triggers.go).
package routing

import (
	"time"

	"github.com/aristath/dividend-ingest/internal/domain"
)

// Lane is the output lane of a routing decision.
type Lane int

const (
	FastQueue Lane = iota
	Bulk
)

// Reason enumerates the named reasons from §4.4.
type Reason string

const (
	ReasonNewTicker        Reason = "new_ticker"
	ReasonRecentlyCreated  Reason = "recently_created"
	ReasonNoDividendData   Reason = "no_dividend_data"
	ReasonRecentExisting   Reason = "recent_existing"
	ReasonStaleExisting    Reason = "stale_existing"
	ReasonErrorFallback    Reason = "error_fallback"
)

// Decision is the Routing Oracle's output.
type Decision struct {
	Lane   Lane
	Reason Reason
}

// Oracle is the leaf interface consumed by both the Ingestion Handler and
// the Worker Pool, with no dependency on the Store Gateway's concrete type
// (§9).
type Oracle interface {
	Decide(ticker *domain.Ticker, now time.Time) Decision
	DecideOnError(err error) Decision
}

type oracle struct{}

func New() Oracle { return oracle{} }

// Decide implements §4.4's decision table. ticker is nil when the symbol
// has no existing row ("not present").
func (oracle) Decide(ticker *domain.Ticker, now time.Time) Decision {
	if ticker == nil {
		return Decision{Lane: FastQueue, Reason: ReasonNewTicker}
	}

	if ticker.LastDividendUpdate == nil {
		if ticker.RecentlyCreated(now) {
			return Decision{Lane: FastQueue, Reason: ReasonRecentlyCreated}
		}
		return Decision{Lane: FastQueue, Reason: ReasonNoDividendData}
	}

	if ticker.UpdatedWithin24h(now) {
		return Decision{Lane: Bulk, Reason: ReasonRecentExisting}
	}
	return Decision{Lane: Bulk, Reason: ReasonStaleExisting}
}

// DecideOnError is the conservative fallback for any store error while
// looking up the ticker (§4.4): fast-queue, so the user-visible symptom is
// "slower than ideal" rather than "silently dropped."
func (oracle) DecideOnError(err error) Decision {
	return Decision{Lane: FastQueue, Reason: ReasonErrorFallback}
}
