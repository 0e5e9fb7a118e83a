package http

import (
	"encoding/json"
	"time"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/domain/signals"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string    `json:"error"` // machine-readable code
	Message   string    `json:"message"`
	Field     string    `json:"field,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StrategiesResponse lists the strategy catalog
type StrategiesResponse struct {
	Count      int                        `json:"count"`
	Strategies []application.StrategyInfo `json:"strategies"`
}

// SignalsResponse carries one consensus report per symbol
type SignalsResponse struct {
	Timestamp time.Time                 `json:"timestamp"`
	Reports   map[string]signals.Report `json:"reports"`
}

// Scenario kinds accepted on the streaming endpoint
const (
	KindCompare    = "compare"
	KindOptimize   = "optimize"
	KindRolling    = "rolling"
	KindMonteCarlo = "montecarlo"
)

// StreamRequest is the single message a client sends after connecting to
// /ws/scenarios. Request holds the same body the matching POST endpoint takes.
type StreamRequest struct {
	Kind    string          `json:"kind"`
	Request json.RawMessage `json:"request"`
}

// Stream message types
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
)

// StreamMessage is sent server to client: progress updates, then exactly one
// result or error
type StreamMessage struct {
	Type   string         `json:"type"`
	Kind   string         `json:"kind,omitempty"`
	Done   int            `json:"done,omitempty"`
	Total  int            `json:"total,omitempty"`
	Result any            `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}
