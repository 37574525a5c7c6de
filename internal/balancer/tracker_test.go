package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baicaiyihao/quant/internal/domain"
	"github.com/baicaiyihao/quant/pkg/logger"
)

func TestFailureTracker_SuccessUpdatesEndpoint(t *testing.T) {
	tracker := NewFailureTracker(domain.DefaultTrackerPolicy(), logger.NewNop())
	e := domain.NewEndpoint("https://rpc-a.example.com", 1, tracker.Policy())

	tracker.Success(e, 25*time.Millisecond)

	assert.Equal(t, int64(1), e.TotalRequests())
	assert.InDelta(t, 25.0, e.ResponseTimeEMA(), 1e-9)
	assert.InDelta(t, 3.0, e.EffectiveWeight(), 1e-9)
}

func TestFailureTracker_DeactivationAfterThreeFailures(t *testing.T) {
	tracker := NewFailureTracker(domain.DefaultTrackerPolicy(), logger.NewNop())
	e := domain.NewEndpoint("https://rpc-a.example.com", 1, tracker.Policy())
	cause := errors.New("connection refused")

	tracker.Failure(e, cause)
	tracker.Failure(e, cause)
	assert.True(t, e.IsActive())

	tracker.Failure(e, cause)
	assert.False(t, e.IsActive())
	assert.False(t, e.IsHealthy())
	assert.Equal(t, 2*time.Second, e.BackoffDelay())
}

func TestFailureTracker_MixedTrafficKeepsEndpointActive(t *testing.T) {
	tracker := NewFailureTracker(domain.DefaultTrackerPolicy(), logger.NewNop())
	e := domain.NewEndpoint("https://rpc-a.example.com", 1, tracker.Policy())
	cause := errors.New("connection refused")

	// Failures interleaved with recovery streaks stay below both thresholds
	for round := 0; round < 4; round++ {
		tracker.Failure(e, cause)
		tracker.Success(e, 10*time.Millisecond)
		tracker.Success(e, 10*time.Millisecond)
		tracker.Success(e, 10*time.Millisecond)
	}

	assert.True(t, e.IsActive())
	assert.LessOrEqual(t, e.FailureCount(), 1)
}

func TestFailureTracker_WeightNeverLeavesBounds(t *testing.T) {
	policy := domain.DefaultTrackerPolicy()
	tracker := NewFailureTracker(policy, logger.NewNop())
	e := domain.NewEndpoint("https://rpc-a.example.com", 5, policy)
	cause := errors.New("boom")

	for i := 0; i < 50; i++ {
		if i%3 == 0 {
			tracker.Failure(e, cause)
		} else {
			tracker.Success(e, time.Duration(i)*time.Millisecond)
		}
		w := e.EffectiveWeight()
		require.GreaterOrEqual(t, w, policy.MinEffectiveWeight)
		require.LessOrEqual(t, w, policy.WeightCeiling)
	}
}
