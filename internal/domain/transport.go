package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Request is a single outbound RPC call
type Request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

// Response is the decoded result of an outbound RPC call
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// Transport is the single entry point for outbound calls. Every call site
// routes through Call so instrumentation and failover wrap one method instead
// of intercepting arbitrary method names.
type Transport interface {
	// Call performs one RPC against the given endpoint URL
	Call(ctx context.Context, url string, req Request) (*Response, error)
	// Probe performs a lightweight out-of-band availability check and
	// returns the observed latency
	Probe(ctx context.Context, url string) (time.Duration, error)
}

// StrategyName identifies a selection strategy
type StrategyName string

const (
	// RoundRobinStrategy cycles through candidates in stable order
	RoundRobinStrategy StrategyName = "round_robin"
	// WeightedRoundRobinStrategy amortizes selection frequency proportional
	// to effective weight (smooth weighted round robin)
	WeightedRoundRobinStrategy StrategyName = "weighted_round_robin"
	// LeastConnectionsStrategy picks the endpoint with fewest recorded calls
	LeastConnectionsStrategy StrategyName = "least_connections"
	// ResponseTimeStrategy picks the endpoint with the lowest latency average
	ResponseTimeStrategy StrategyName = "response_time"
	// RandomStrategy picks uniformly among candidates
	RandomStrategy StrategyName = "random"
)

// ValidStrategy reports whether name is a known strategy
func ValidStrategy(name StrategyName) bool {
	switch name {
	case RoundRobinStrategy, WeightedRoundRobinStrategy, LeastConnectionsStrategy,
		ResponseTimeStrategy, RandomStrategy:
		return true
	default:
		return false
	}
}
