package domain

import (
	"regexp"
	"time"
)

var apiKeyPattern = regexp.MustCompile(`^tk_[A-Za-z0-9_]{6,}$`)

// ValidAPIKeyFormat reports whether key matches the tk_[A-Za-z0-9_]{6,}
// grammar (§3, §4.7).
func ValidAPIKeyFormat(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// PlanType bounds the allowed values of ApiUser.PlanType (§3).
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
)

// ApiUser is an authenticated caller of the public API (§3).
type ApiUser struct {
	ID                string
	APIKey            string
	UserName          string
	PlanType          PlanType
	MaxSubscriptions  int
	IsActive          bool
	RateLimitPerHour  int
}

// Subscription is a (user, ticker) pair a user has opted into (§3).
type Subscription struct {
	UserID              string
	TickerSymbol        string
	Priority            int // 1 or 2, per §3
	SubscribedAt        time.Time
	NotificationEnabled bool
	AutoUpdateEnabled   bool
	LastDividendCheck   *time.Time
}

// SubscriptionActivity is an append-only log entry for subscription changes
// (§4.9: "All subscription-changing operations append an entry").
type SubscriptionActivity struct {
	ID           string
	UserID       string
	TickerSymbol string
	Action       string // subscribe, unsubscribe, bulk_subscribe, bulk_unsubscribe
	Detail       map[string]any
	CreatedAt    time.Time
}
