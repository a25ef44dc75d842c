package modelcall

import (
	"fmt"
	"strings"
)

// ProviderError represents a failure reported by (or on the way to) a
// model provider. Retryable marks whether a repeat attempt can succeed.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Concrete provider error types, distinguished so callers can branch on
// the failure class rather than parse messages.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type RequestTimeoutError struct{ ProviderError }

// IsRetryable reports whether the error is safe to retry. Unknown errors
// default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthenticationError, *AccessDeniedError, *InvalidRequestError, *ContextLengthError:
		return false
	case *RateLimitError, *ServerError, *RequestTimeoutError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		return true
	}
}

// classifyError maps an underlying provider/library error onto the typed
// hierarchy, keyed off status codes and well-known message fragments.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := ProviderError{Provider: provider, Message: msg, Cause: err}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{base}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		base.StatusCode = 403
		return &AccessDeniedError{base}
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request"):
		base.StatusCode = 400
		return &InvalidRequestError{base}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		base.StatusCode = 429
		base.Retryable = true
		return &RateLimitError{base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		base.StatusCode = 413
		return &ContextLengthError{base}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		base.Retryable = true
		return &RequestTimeoutError{base}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server") || strings.Contains(lower, "overloaded"):
		base.StatusCode = 500
		base.Retryable = true
		return &ServerError{base}
	default:
		base.Retryable = true
		return &base
	}
}
