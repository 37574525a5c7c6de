package balancer

import (
	"time"

	"github.com/baicaiyihao/quant/internal/domain"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// FailureTracker records call outcomes against endpoints and drives the
// deactivation/backoff state transitions. All arithmetic lives on the
// endpoint itself so the transitions apply atomically; the tracker owns the
// policy and the operational logging around them.
type FailureTracker struct {
	policy domain.TrackerPolicy
	log    *logger.Logger
}

// NewFailureTracker creates a failure tracker with the given policy
func NewFailureTracker(policy domain.TrackerPolicy, log *logger.Logger) *FailureTracker {
	return &FailureTracker{
		policy: policy,
		log:    log.TrackerLogger(),
	}
}

// Policy returns the tracker's thresholds
func (t *FailureTracker) Policy() domain.TrackerPolicy {
	return t.policy
}

// Success records a successful call and its latency
func (t *FailureTracker) Success(e *domain.Endpoint, latency time.Duration) {
	forgiven := e.RecordSuccess(latency, t.policy)
	if forgiven {
		t.log.WithField("endpoint", e.URL).
			WithField("failure_count", e.FailureCount()).
			Debug("Forgave one failure after recovery streak")
	}
}

// Failure records a failed call (timeouts count the same as any other
// failure) and deactivates the endpoint when a threshold is breached
func (t *FailureTracker) Failure(e *domain.Endpoint, cause error) {
	deactivated := e.RecordFailure(t.policy)
	if deactivated {
		t.log.WithField("endpoint", e.URL).
			WithField("backoff", e.BackoffDelay().String()).
			WithError(cause).
			Warn("Endpoint deactivated after repeated failures")
		return
	}
	t.log.WithField("endpoint", e.URL).
		WithError(cause).
		Debug("Recorded endpoint failure")
}
