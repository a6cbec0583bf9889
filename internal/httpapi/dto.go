package httpapi

import "github.com/aristath/dividend-ingest/internal/routing"

// updateTickersRequest is §4.8's input.
type updateTickersRequest struct {
	Tickers  []string `json:"tickers" validate:"required,min=1,max=100"`
	Priority *int     `json:"priority,omitempty"`
	Force    bool     `json:"force,omitempty"`
	Fast     bool     `json:"fast,omitempty"`
}

type routingOutcome struct {
	Ticker string        `json:"ticker"`
	Lane   string        `json:"lane"`
	Reason routing.Reason `json:"reason"`
}

type updateTickersResponse struct {
	JobID          string           `json:"jobId,omitempty"`
	FastQueued     []string         `json:"fastQueued,omitempty"`
	FastQueueError string           `json:"fastQueueError,omitempty"`
	Routing        []routingOutcome `json:"routing"`
	Counts         laneCounts       `json:"counts"`
}

type laneCounts struct {
	Fast int `json:"fast"`
	Bulk int `json:"bulk"`
}

type subscribeRequest struct {
	Ticker   string `json:"ticker" validate:"required"`
	Priority int    `json:"priority,omitempty"`
}

type unsubscribeRequest struct {
	Ticker string `json:"ticker" validate:"required"`
}

type bulkSubscribeRequest struct {
	Action   string   `json:"action" validate:"required,oneof=subscribe unsubscribe"`
	Tickers  []string `json:"tickers" validate:"required,min=1"`
	Priority int      `json:"priority,omitempty"`
}

type bulkOutcome struct {
	Ticker  string `json:"ticker"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type processRequest struct {
	Ticker    string `json:"ticker" validate:"required"`
	Force     bool   `json:"force,omitempty"`
	FetchType string `json:"fetchType,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
