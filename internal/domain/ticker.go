// Package domain holds the entities of §3: Ticker, Dividend, Job, QueueItem,
// RateBudget, CallLog, ApiUser and Subscription, plus their invariants.
package domain

import (
	"regexp"
	"strings"
	"time"
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,10}(\.[A-Z]{1,10})?$`)

// Ticker is a tracked equity symbol. Symbol is unique and always
// uppercased.
type Ticker struct {
	Symbol               string
	IsActive             bool
	CreatedAt            time.Time
	LastDividendUpdate   *time.Time
	UpdateFrequencyHours int
}

// NormalizeSymbol trims and uppercases a raw symbol, or returns "", false if
// it does not match the 1-10 uppercase ASCII letters (optionally with a
// single dot segment) grammar in §3.
func NormalizeSymbol(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || !tickerPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// RecentlyCreated reports whether the ticker was created within the last
// hour of now, used by the Routing Oracle (§4.4).
func (t Ticker) RecentlyCreated(now time.Time) bool {
	return now.Sub(t.CreatedAt) < time.Hour
}

// UpdatedWithin24h reports whether LastDividendUpdate is non-nil and within
// the last 24h of now.
func (t Ticker) UpdatedWithin24h(now time.Time) bool {
	if t.LastDividendUpdate == nil {
		return false
	}
	return now.Sub(*t.LastDividendUpdate) < 24*time.Hour
}

const DefaultUpdateFrequencyHours = 24
