package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpoint_InitialState(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 3, policy)

	assert.True(t, e.IsActive())
	assert.True(t, e.IsHealthy())
	assert.True(t, e.IsCandidate())
	assert.Equal(t, 3.0, e.Weight)
	assert.Equal(t, 3.0, e.EffectiveWeight())
	assert.Equal(t, 0.0, e.CurrentWeight())
	assert.Equal(t, policy.BaseBackoffDelay, e.BackoffDelay())
	assert.Equal(t, int64(0), e.TotalRequests())
}

func TestNewEndpoint_WeightFlooredAtOne(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 0, policy)
	assert.Equal(t, 1.0, e.Weight)
	assert.Equal(t, 1.0, e.EffectiveWeight())
}

func TestNewEndpoint_EffectiveWeightClampedToCeiling(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 10, policy)
	assert.Equal(t, 10.0, e.Weight)
	assert.Equal(t, policy.WeightCeiling, e.EffectiveWeight())
}

func TestRecordSuccess_UpdatesCountersAndWeight(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	forgiven := e.RecordSuccess(50*time.Millisecond, policy)

	assert.False(t, forgiven)
	assert.Equal(t, int64(1), e.TotalRequests())
	// 100% success rate pushes effective weight to 1 + 2*1.0 = 3.0
	assert.InDelta(t, 3.0, e.EffectiveWeight(), 1e-9)
	assert.InDelta(t, 50.0, e.ResponseTimeEMA(), 1e-9)
}

func TestRecordSuccess_EMASmoothing(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.RecordSuccess(100*time.Millisecond, policy)
	require.InDelta(t, 100.0, e.ResponseTimeEMA(), 1e-9)

	e.RecordSuccess(200*time.Millisecond, policy)
	// 0.1*200 + 0.9*100 = 110
	assert.InDelta(t, 110.0, e.ResponseTimeEMA(), 1e-9)
}

func TestRecordFailure_WeightPenaltyAndFloor(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.RecordFailure(policy)
	assert.InDelta(t, 0.5, e.EffectiveWeight(), 1e-9)
	e.RecordFailure(policy)
	assert.InDelta(t, 0.25, e.EffectiveWeight(), 1e-9)

	for i := 0; i < 10; i++ {
		e.RecordFailure(policy)
	}
	assert.InDelta(t, policy.MinEffectiveWeight, e.EffectiveWeight(), 1e-9)
}

func TestRecordFailure_DeactivatesAfterMaxFailures(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	assert.False(t, e.RecordFailure(policy))
	assert.False(t, e.RecordFailure(policy))
	assert.True(t, e.IsActive())

	deactivated := e.RecordFailure(policy)
	assert.True(t, deactivated)
	assert.False(t, e.IsActive())
	assert.False(t, e.IsHealthy())
	assert.False(t, e.IsCandidate())
	assert.Equal(t, 2*time.Second, e.BackoffDelay())
	assert.Equal(t, 3, e.FailureCount())
}

func TestRecordFailure_BackoffDoublesAndCaps(t *testing.T) {
	policy := DefaultTrackerPolicy()
	policy.MaxBackoffDelay = 3 * time.Second
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	for i := 0; i < 3; i++ {
		e.RecordFailure(policy)
	}
	assert.Equal(t, 2*time.Second, e.BackoffDelay())

	// Still past the threshold, so the window keeps doubling up to the cap
	e.RecordFailure(policy)
	assert.Equal(t, 3*time.Second, e.BackoffDelay())
}

func TestRecordFailure_ConsecutiveFailureThreshold(t *testing.T) {
	policy := DefaultTrackerPolicy()
	policy.MaxFailures = 100 // keep the cumulative threshold out of the way
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	for i := 0; i < 4; i++ {
		assert.False(t, e.RecordFailure(policy))
	}
	assert.True(t, e.RecordFailure(policy))
	assert.False(t, e.IsActive())
}

func TestRecordSuccess_ForgivenessDecrementsFailureCount(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.RecordFailure(policy)
	e.RecordFailure(policy)
	require.Equal(t, 2, e.FailureCount())

	assert.False(t, e.RecordSuccess(10*time.Millisecond, policy))
	assert.False(t, e.RecordSuccess(10*time.Millisecond, policy))
	assert.True(t, e.RecordSuccess(10*time.Millisecond, policy))
	assert.Equal(t, 1, e.FailureCount())

	// Forgiveness fires again on each further success while the streak holds
	assert.True(t, e.RecordSuccess(10*time.Millisecond, policy))
	assert.Equal(t, 0, e.FailureCount())

	// Never decremented below zero
	assert.False(t, e.RecordSuccess(10*time.Millisecond, policy))
	assert.Equal(t, 0, e.FailureCount())
}

func TestRecordOutcomes_ConsecutiveCountersAreMutuallyExclusive(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.RecordSuccess(10*time.Millisecond, policy)
	e.RecordSuccess(10*time.Millisecond, policy)
	snap := e.Snapshot()
	assert.Equal(t, 2, snap.ConsecutiveSuccesses)
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	e.RecordFailure(policy)
	snap = e.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveSuccesses)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	e.RecordSuccess(10*time.Millisecond, policy)
	snap = e.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveSuccesses)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestApplyProbeResult_ReactivatesAfterBackoff(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	for i := 0; i < 3; i++ {
		e.RecordFailure(policy)
	}
	require.False(t, e.IsActive())
	require.Equal(t, 2*time.Second, e.BackoffDelay())

	transition := e.ApplyProbeResult(true, 30*time.Millisecond, policy)

	assert.Equal(t, ProbeReactivated, transition)
	assert.True(t, e.IsActive())
	assert.True(t, e.IsHealthy())
	assert.Equal(t, 0, e.FailureCount())
	assert.Equal(t, policy.BaseBackoffDelay, e.BackoffDelay())
	snap := e.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	// Rejoins rotation with a clean round robin accumulator
	assert.InDelta(t, e.EffectiveWeight(), e.CurrentWeight(), 1e-9)
}

func TestApplyProbeResult_NeverTouchesRequestCounters(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.ApplyProbeResult(true, 40*time.Millisecond, policy)

	assert.Equal(t, int64(0), e.TotalRequests())
	snap := e.Snapshot()
	assert.Equal(t, int64(0), snap.SuccessCount)
	// A probe on a never-used endpoint still seeds the latency average
	assert.InDelta(t, 40.0, e.ResponseTimeEMA(), 1e-9)
}

func TestApplyProbeResult_LatencyIgnoredOnceTrafficRecorded(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.RecordSuccess(100*time.Millisecond, policy)
	e.ApplyProbeResult(true, 5*time.Millisecond, policy)

	assert.InDelta(t, 100.0, e.ResponseTimeEMA(), 1e-9)
}

func TestApplyProbeResult_FailureOnActiveEndpointOnlyFlipsHealth(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	transition := e.ApplyProbeResult(false, 0, policy)

	assert.Equal(t, ProbeMarkedUnhealthy, transition)
	assert.True(t, e.IsActive())
	assert.False(t, e.IsHealthy())
	assert.False(t, e.IsCandidate())
	assert.Equal(t, 0, e.FailureCount())
	assert.Equal(t, policy.BaseBackoffDelay, e.BackoffDelay())
}

func TestApplyProbeResult_SuccessRestoresHealthFlag(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	e.ApplyProbeResult(false, 0, policy)
	require.False(t, e.IsHealthy())

	transition := e.ApplyProbeResult(true, 20*time.Millisecond, policy)
	assert.Equal(t, ProbeMarkedHealthy, transition)
	assert.True(t, e.IsHealthy())
	assert.True(t, e.IsCandidate())
}

func TestApplyProbeResult_FailureOnInactiveEndpointIsNoChange(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	for i := 0; i < 3; i++ {
		e.RecordFailure(policy)
	}
	require.False(t, e.IsActive())

	transition := e.ApplyProbeResult(false, 0, policy)
	assert.Equal(t, ProbeNoChange, transition)
	assert.False(t, e.IsActive())
}

func TestReadyForProbe(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 1, policy)

	now := time.Now()
	assert.False(t, e.ReadyForProbe(now), "active endpoints are never probe-due")

	for i := 0; i < 3; i++ {
		e.RecordFailure(policy)
	}
	require.Equal(t, 2*time.Second, e.BackoffDelay())

	assert.False(t, e.ReadyForProbe(time.Now()))
	assert.True(t, e.ReadyForProbe(time.Now().Add(3*time.Second)))
}

func TestSnapshot_SuccessRateAndTimestamps(t *testing.T) {
	policy := DefaultTrackerPolicy()
	e := NewEndpoint("https://rpc-1.example.com", 2, policy)

	snap := e.Snapshot()
	assert.Equal(t, 0.0, snap.SuccessRatePct)
	assert.Nil(t, snap.MsSinceLastFailure)
	assert.Nil(t, snap.MsSinceLastSuccess)

	e.RecordSuccess(10*time.Millisecond, policy)
	e.RecordSuccess(10*time.Millisecond, policy)
	e.RecordSuccess(10*time.Millisecond, policy)
	e.RecordFailure(policy)

	snap = e.Snapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.SuccessCount)
	assert.InDelta(t, 75.0, snap.SuccessRatePct, 1e-9)
	require.NotNil(t, snap.MsSinceLastFailure)
	require.NotNil(t, snap.MsSinceLastSuccess)
	assert.GreaterOrEqual(t, *snap.MsSinceLastFailure, int64(0))
}
