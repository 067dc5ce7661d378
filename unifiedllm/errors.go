package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamErrorType struct{ SDKError }
type ConfigurationError struct{ SDKError }

// IdleTimeoutError reports a stream that stalled between two chunks for
// longer than the configured idle window.
type IdleTimeoutError struct {
	SDKError
	Idle time.Duration
}

func newIdleTimeoutError(idle time.Duration) *IdleTimeoutError {
	return &IdleTimeoutError{
		SDKError: SDKError{Message: fmt.Sprintf("no stream data received for %s", idle)},
		Idle:     idle,
	}
}

// TimedOutMessage is the user-facing text shared by idle timeouts and
// transport-level cancellations.
const TimedOutMessage = "request timed out"

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry by re-issuing the
// request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		auth    *AuthenticationError
		denied  *AccessDeniedError
		nf      *NotFoundError
		invalid *InvalidRequestError
		ctxLen  *ContextLengthError
		filter  *ContentFilterError
		cfg     *ConfigurationError
		abort   *AbortError
		rl      *RateLimitError
		srv     *ServerError
		netErr  *NetworkError
		stream  *StreamErrorType
		timeout *RequestTimeoutError
		idle    *IdleTimeoutError
		pe      *ProviderError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &nf),
		errors.As(err, &invalid), errors.As(err, &ctxLen), errors.As(err, &filter),
		errors.As(err, &cfg), errors.As(err, &abort):
		return false
	case errors.As(err, &rl), errors.As(err, &srv), errors.As(err, &netErr),
		errors.As(err, &stream), errors.As(err, &timeout), errors.As(err, &idle):
		return true
	case errors.As(err, &pe):
		return pe.Retryable
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// IsAuthError reports whether err is an authentication or authorization
// failure, which is never worth retrying.
func IsAuthError(err error) bool {
	var auth *AuthenticationError
	var denied *AccessDeniedError
	return errors.As(err, &auth) || errors.As(err, &denied)
}

// UserFacingMessage renders err for display. Idle timeouts, request timeouts
// and transport-level cancellations all read as TimedOutMessage.
func UserFacingMessage(err error) string {
	if err == nil {
		return ""
	}
	var idle *IdleTimeoutError
	var timeout *RequestTimeoutError
	var abort *AbortError
	switch {
	case errors.As(err, &idle), errors.As(err, &timeout):
		return TimedOutMessage
	case errors.As(err, &abort):
		if abort.Cause == nil || errors.Is(abort.Cause, context.Canceled) || errors.Is(abort.Cause, context.DeadlineExceeded) {
			return TimedOutMessage
		}
		return abort.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOutMessage
	}
	return err.Error()
}
