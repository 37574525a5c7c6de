package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Startup errors
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_INVALID"

	// Selection errors
	ErrCodeNoAvailableEndpoint ErrorCode = "NO_AVAILABLE_ENDPOINT"
	ErrCodeInvalidStrategy     ErrorCode = "INVALID_STRATEGY"

	// Call errors
	ErrCodeTransport  ErrorCode = "TRANSPORT_FAILED"
	ErrCodeTimeout    ErrorCode = "CALL_TIMEOUT"
	ErrCodeCallFailed ErrorCode = "CALL_FAILED"

	// Background errors
	ErrCodeHealthProbe ErrorCode = "HEALTH_PROBE_FAILED"
)

// BalancerError represents a structured error with context
type BalancerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"` // Original error
}

// Error implements the error interface
func (e *BalancerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *BalancerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *BalancerError) Is(target error) bool {
	if t, ok := target.(*BalancerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *BalancerError) WithMetadata(key string, value interface{}) *BalancerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by retrying
func (e *BalancerError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTransport, ErrCodeTimeout, ErrCodeNoAvailableEndpoint:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *BalancerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidStrategy, ErrCodeConfiguration:
		return 400
	case ErrCodeNoAvailableEndpoint:
		return 503
	case ErrCodeTimeout:
		return 504
	default:
		return 500
	}
}

// NewError creates a new BalancerError
func NewError(code ErrorCode, component, message string) *BalancerError {
	return &BalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with BalancerError structure
func WrapError(err error, code ErrorCode, component, message string) *BalancerError {
	if err == nil {
		return nil
	}

	return &BalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// Common error constructors for frequently used errors

// NewConfigurationError creates a fatal startup configuration error
func NewConfigurationError(message string) *BalancerError {
	return NewError(ErrCodeConfiguration, "registry", message)
}

// NewNoAvailableEndpointError creates an error when no endpoint is active and healthy
func NewNoAvailableEndpointError() *BalancerError {
	return NewError(
		ErrCodeNoAvailableEndpoint,
		"balancer",
		"No active and healthy endpoint available",
	)
}

// NewInvalidStrategyError creates an error for an unknown strategy name
func NewInvalidStrategyError(name string) *BalancerError {
	return NewError(
		ErrCodeInvalidStrategy,
		"balancer",
		fmt.Sprintf("Unsupported selection strategy '%s'", name),
	).WithMetadata("strategy", name)
}

// NewTransportError creates an error for a failed call to an endpoint
func NewTransportError(url string, cause error) *BalancerError {
	return WrapError(
		cause,
		ErrCodeTransport,
		"transport",
		fmt.Sprintf("Call to endpoint %s failed", url),
	).WithMetadata("endpoint", url)
}

// NewTimeoutError creates an error for a call that exceeded its deadline
func NewTimeoutError(url string, cause error) *BalancerError {
	return WrapError(
		cause,
		ErrCodeTimeout,
		"transport",
		fmt.Sprintf("Call to endpoint %s timed out", url),
	).WithMetadata("endpoint", url)
}

// NewCallFailedError creates the caller-facing error after failover was exhausted.
// firstURL is the endpoint originally selected, lastURL the endpoint of the final
// attempt (equal to firstURL when no failover happened).
func NewCallFailedError(firstURL, lastURL string, attempts int, cause error) *BalancerError {
	message := fmt.Sprintf("Call failed on endpoint %s after %d attempt(s)", firstURL, attempts)
	if lastURL != firstURL {
		message = fmt.Sprintf("Call failed on endpoint %s after failover to %s (%d attempts)",
			firstURL, lastURL, attempts)
	}
	return WrapError(cause, ErrCodeCallFailed, "balancer", message).
		WithMetadata("endpoint", firstURL).
		WithMetadata("failover_endpoint", lastURL).
		WithMetadata("attempts", attempts)
}

// NewHealthProbeError creates an error for a failed background probe.
// Never propagated to callers, logged only.
func NewHealthProbeError(url string, cause error) *BalancerError {
	return WrapError(
		cause,
		ErrCodeHealthProbe,
		"health_monitor",
		fmt.Sprintf("Health probe of endpoint %s failed", url),
	).WithMetadata("endpoint", url)
}

// Helper functions

// IsBalancerError checks if an error is a BalancerError
func IsBalancerError(err error) bool {
	var bErr *BalancerError
	return errors.As(err, &bErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var bErr *BalancerError
	if errors.As(err, &bErr) {
		return bErr.Code
	}
	return ErrCodeTransport
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var bErr *BalancerError
	if errors.As(err, &bErr) {
		return bErr.IsRetryable()
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var bErr *BalancerError
	if errors.As(err, &bErr) {
		return bErr.HTTPStatusCode()
	}
	return 500
}
