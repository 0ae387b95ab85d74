package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConfigured    = errors.New("provider not configured")
	ErrDuplicate        = errors.New("duplicate")
	ErrInternalError    = errors.New("internal error")
)

// Kind categorizes a provider failure. The worker derives retry policy
// from it, the API layer derives status codes from it.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindQuota       Kind = "quota_exceeded"
	KindTimeout     Kind = "timeout"
	KindMalformed   Kind = "malformed_response"
	KindUpstream    Kind = "upstream_error"
)

// ProviderError is a structured error for provider adapter operations.
type ProviderError struct {
	Kind       Kind
	Provider   string // platform name, e.g. "gemini"
	Op         string // operation that failed, e.g. "query", "healthcheck"
	Err        error  // underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retriable  bool
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s failed (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ProviderError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrConnectionFailed:
		return e.Kind == KindTransport
	}

	return errors.Is(e.Err, target)
}

// NewProviderError creates a new ProviderError. Retriability follows the
// kind: transport, timeout and rate_limited failures may succeed on a
// later attempt; auth, quota and malformed responses will not without
// operator action.
func NewProviderError(kind Kind, provider, op string, err error) *ProviderError {
	return &ProviderError{
		Kind:      kind,
		Provider:  provider,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retriable: kindRetriable(kind),
	}
}

// WithStatusCode attaches the HTTP status code from the upstream response.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	return e
}

func kindRetriable(kind Kind) bool {
	switch kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// Helper functions

// WrapTransport wraps a transport-level failure with context.
func WrapTransport(provider, op string, err error) error {
	return NewProviderError(KindTransport, provider, op, err)
}

// WrapTimeout wraps a deadline failure with context.
func WrapTimeout(provider, op string, err error) error {
	return NewProviderError(KindTimeout, provider, op, err)
}

// WrapUpstream wraps a non-2xx upstream response, classifying by
// status: 401/403 auth, 429 rate_limited, 408/504 timeout. 402 and 413
// map to quota_exceeded because that is how the covered providers
// signal plan exhaustion at the HTTP layer (payment required, prompt
// over the plan's token ceiling); 429 always means the per-minute
// window and stays retriable. Anything else is upstream_error.
func WrapUpstream(provider, op string, err error, statusCode int) error {
	kind := KindUpstream
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = KindAuth
	case statusCode == 429:
		kind = KindRateLimited
	case statusCode == 402 || statusCode == 413:
		kind = KindQuota
	case statusCode == 408 || statusCode == 504:
		kind = KindTimeout
	}
	return NewProviderError(kind, provider, op, err).WithStatusCode(statusCode)
}

// IsRetryableError checks if an error should be retried.
func IsRetryableError(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retriable
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// IsQuotaError reports whether the error is a quota exhaustion, which
// places the provider into a cooldown window.
func IsQuotaError(err error) bool {
	var provErr *ProviderError
	return errors.As(err, &provErr) && provErr.Kind == KindQuota
}

// KindOf extracts the kind from a provider error chain, or KindUpstream
// when the error carries no classification.
func KindOf(err error) Kind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	return KindUpstream
}
