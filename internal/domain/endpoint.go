package domain

import (
	"sync"
	"time"
)

// TrackerPolicy bundles the thresholds and tuning constants for endpoint
// health accounting. The same instance is shared by the failure tracker and
// the health monitor.
type TrackerPolicy struct {
	MaxFailures            int
	MaxConsecutiveFailures int
	RecoveryThreshold      int
	FailureWeightPenalty   float64
	MinEffectiveWeight     float64
	WeightCeiling          float64
	ResponseTimeAlpha      float64
	BaseBackoffDelay       time.Duration
	MaxBackoffDelay        time.Duration
}

// DefaultTrackerPolicy returns the standard thresholds
func DefaultTrackerPolicy() TrackerPolicy {
	return TrackerPolicy{
		MaxFailures:            3,
		MaxConsecutiveFailures: 5,
		RecoveryThreshold:      3,
		FailureWeightPenalty:   0.5,
		MinEffectiveWeight:     0.1,
		WeightCeiling:          5.0,
		ResponseTimeAlpha:      0.1,
		BaseBackoffDelay:       time.Second,
		MaxBackoffDelay:        5 * time.Minute,
	}
}

// Endpoint represents one configured backend endpoint with its runtime state.
// URL and Weight are immutable after construction; everything else is guarded
// by the endpoint's own lock so compound transitions apply atomically under
// concurrent calls and probe cycles.
type Endpoint struct {
	URL    string
	Weight float64

	mu                   sync.Mutex
	active               bool
	healthy              bool
	effectiveWeight      float64
	currentWeight        float64
	failureCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	successCount         int64
	totalRequests        int64
	responseTimeEMA      float64 // milliseconds
	lastFailure          time.Time
	lastSuccess          time.Time
	backoffDelay         time.Duration
}

// NewEndpoint creates an endpoint in the optimistic initial state: active,
// healthy, effective weight seeded from the configured weight.
func NewEndpoint(url string, weight float64, policy TrackerPolicy) *Endpoint {
	if weight < 1 {
		weight = 1
	}
	return &Endpoint{
		URL:             url,
		Weight:          weight,
		active:          true,
		healthy:         true,
		effectiveWeight: clamp(weight, policy.MinEffectiveWeight, policy.WeightCeiling),
		backoffDelay:    policy.BaseBackoffDelay,
	}
}

// RecordSuccess applies a successful call outcome. Returns true when a prior
// failure was forgiven by the recovery streak.
func (e *Endpoint) RecordSuccess(latency time.Duration, policy TrackerPolicy) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.successCount++
	e.consecutiveSuccesses++
	e.consecutiveFailures = 0
	e.lastSuccess = time.Now()
	e.healthy = true

	latencyMs := float64(latency) / float64(time.Millisecond)
	if e.responseTimeEMA == 0 {
		e.responseTimeEMA = latencyMs
	} else {
		e.responseTimeEMA = policy.ResponseTimeAlpha*latencyMs +
			(1-policy.ResponseTimeAlpha)*e.responseTimeEMA
	}

	successRate := float64(e.successCount) / float64(e.totalRequests)
	e.effectiveWeight = clamp(1+2*successRate, policy.MinEffectiveWeight, policy.WeightCeiling)

	// Gradual rehabilitation without a full reset
	if e.failureCount > 0 && e.consecutiveSuccesses >= policy.RecoveryThreshold {
		e.failureCount--
		return true
	}
	return false
}

// RecordFailure applies a failed call outcome. Returns true when the failure
// pushed the endpoint over a deactivation threshold on this call.
func (e *Endpoint) RecordFailure(policy TrackerPolicy) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.failureCount++
	e.consecutiveFailures++
	e.consecutiveSuccesses = 0
	e.lastFailure = time.Now()

	e.effectiveWeight = e.effectiveWeight * policy.FailureWeightPenalty
	if e.effectiveWeight < policy.MinEffectiveWeight {
		e.effectiveWeight = policy.MinEffectiveWeight
	}

	if e.failureCount >= policy.MaxFailures ||
		e.consecutiveFailures >= policy.MaxConsecutiveFailures {
		wasActive := e.active
		e.active = false
		e.healthy = false
		e.backoffDelay = minDuration(e.backoffDelay*2, policy.MaxBackoffDelay)
		return wasActive
	}
	return false
}

// ProbeTransition describes what a probe outcome did to the endpoint
type ProbeTransition int

const (
	// ProbeNoChange means the outcome confirmed the current state
	ProbeNoChange ProbeTransition = iota
	// ProbeReactivated means a deactivated endpoint came back into rotation
	ProbeReactivated
	// ProbeMarkedHealthy means an active endpoint recovered its health flag
	ProbeMarkedHealthy
	// ProbeMarkedUnhealthy means an active endpoint lost its health flag
	ProbeMarkedUnhealthy
)

// ApplyProbeResult applies a background health probe outcome. Probe outcomes
// never touch request counters; on endpoints that never carried live traffic
// a successful probe seeds the response-time average.
func (e *Endpoint) ApplyProbeResult(ok bool, latency time.Duration, policy TrackerPolicy) ProbeTransition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		if e.active && e.healthy {
			e.healthy = false
			return ProbeMarkedUnhealthy
		}
		return ProbeNoChange
	}

	transition := ProbeNoChange
	if !e.active {
		e.active = true
		e.failureCount = 0
		e.consecutiveFailures = 0
		e.backoffDelay = policy.BaseBackoffDelay
		e.currentWeight = e.effectiveWeight
		transition = ProbeReactivated
	} else if !e.healthy {
		transition = ProbeMarkedHealthy
	}
	e.healthy = true

	if e.totalRequests == 0 {
		latencyMs := float64(latency) / float64(time.Millisecond)
		if e.responseTimeEMA == 0 {
			e.responseTimeEMA = latencyMs
		} else {
			e.responseTimeEMA = policy.ResponseTimeAlpha*latencyMs +
				(1-policy.ResponseTimeAlpha)*e.responseTimeEMA
		}
	}
	return transition
}

// ReadyForProbe reports whether a deactivated endpoint's backoff window has
// elapsed and a reactivation probe is due.
func (e *Endpoint) ReadyForProbe(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return false
	}
	return !e.lastFailure.IsZero() && now.Sub(e.lastFailure) >= e.backoffDelay
}

// IsCandidate reports whether the endpoint is eligible for selection
func (e *Endpoint) IsCandidate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && e.healthy
}

// IsActive reports whether the endpoint is in rotation
func (e *Endpoint) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// IsHealthy reports the last known health of the endpoint
func (e *Endpoint) IsHealthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// EffectiveWeight returns the dynamically adjusted selection weight
func (e *Endpoint) EffectiveWeight() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveWeight
}

// CurrentWeight returns the smooth weighted round robin accumulator
func (e *Endpoint) CurrentWeight() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentWeight
}

// AddCurrentWeight adjusts the smooth weighted round robin accumulator and
// returns the new value. Callers must serialize selection externally to keep
// the round robin ordering meaningful.
func (e *Endpoint) AddCurrentWeight(delta float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentWeight += delta
	return e.currentWeight
}

// TotalRequests returns the number of live calls recorded against the endpoint
func (e *Endpoint) TotalRequests() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalRequests
}

// FailureCount returns the current failure score
func (e *Endpoint) FailureCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCount
}

// ResponseTimeEMA returns the smoothed call latency in milliseconds
func (e *Endpoint) ResponseTimeEMA() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responseTimeEMA
}

// BackoffDelay returns the current deactivation window
func (e *Endpoint) BackoffDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backoffDelay
}

// EndpointSnapshot is a point-in-time copy of endpoint state for status APIs
type EndpointSnapshot struct {
	URL                  string  `json:"url"`
	IsActive             bool    `json:"isActive"`
	IsHealthy            bool    `json:"isHealthy"`
	Weight               float64 `json:"weight"`
	EffectiveWeight      float64 `json:"effectiveWeight"`
	CurrentWeight        float64 `json:"currentWeight"`
	FailureCount         int     `json:"failureCount"`
	ConsecutiveFailures  int     `json:"consecutiveFailures"`
	ConsecutiveSuccesses int     `json:"consecutiveSuccesses"`
	BackoffDelayMs       int64   `json:"backoffDelay"`
	ResponseTimeMs       float64 `json:"responseTimeMs"`
	SuccessRatePct       float64 `json:"successRatePct"`
	TotalRequests        int64   `json:"totalRequests"`
	SuccessCount         int64   `json:"successCount"`
	MsSinceLastFailure   *int64  `json:"msSinceLastFailure"`
	MsSinceLastSuccess   *int64  `json:"msSinceLastSuccess"`
}

// Snapshot returns a consistent copy of the endpoint state
func (e *Endpoint) Snapshot() EndpointSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := EndpointSnapshot{
		URL:                  e.URL,
		IsActive:             e.active,
		IsHealthy:            e.healthy,
		Weight:               e.Weight,
		EffectiveWeight:      e.effectiveWeight,
		CurrentWeight:        e.currentWeight,
		FailureCount:         e.failureCount,
		ConsecutiveFailures:  e.consecutiveFailures,
		ConsecutiveSuccesses: e.consecutiveSuccesses,
		BackoffDelayMs:       e.backoffDelay.Milliseconds(),
		ResponseTimeMs:       e.responseTimeEMA,
		TotalRequests:        e.totalRequests,
		SuccessCount:         e.successCount,
	}
	if e.totalRequests > 0 {
		snap.SuccessRatePct = float64(e.successCount) / float64(e.totalRequests) * 100
	}
	now := time.Now()
	if !e.lastFailure.IsZero() {
		ms := now.Sub(e.lastFailure).Milliseconds()
		snap.MsSinceLastFailure = &ms
	}
	if !e.lastSuccess.IsZero() {
		ms := now.Sub(e.lastSuccess).Milliseconds()
		snap.MsSinceLastSuccess = &ms
	}
	return snap
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
