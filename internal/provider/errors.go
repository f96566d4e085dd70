package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind string

const (
	// KindAuth means the credentials were rejected. Never retried.
	KindAuth ErrorKind = "auth"
	// KindRateLimit means the provider throttled us. Retried with backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindModelNotFound means the requested model does not exist at this
	// provider. Never retried.
	KindModelNotFound ErrorKind = "model_not_found"
	// KindTimeout covers deadline and network timeouts. Retried.
	KindTimeout ErrorKind = "timeout"
	// KindTransport covers other connection-level failures. Not retried
	// on the same provider; the invoker moves to the next candidate.
	KindTransport ErrorKind = "transport"
	// KindInvalidResponse means the provider answered with an unusable
	// payload. Never retried.
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Retryable reports whether the same provider is worth another attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterHint reports the provider-requested wait, if any.
func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// NewError builds a classified provider error.
func NewError(kind ErrorKind, providerID string, err error) *Error {
	return &Error{Kind: kind, Provider: providerID, Err: err}
}

// ErrAllProvidersExhausted is wrapped into the terminal error when every
// candidate has been tried without success.
var ErrAllProvidersExhausted = eris.New("all providers exhausted")

// statusCoder is implemented by client APIError types.
type statusCoder interface {
	HTTPStatusCode() int
}

// Classify maps an arbitrary client error to an ErrorKind. Unknown errors
// are treated as transport failures, which advance to the next candidate.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransport
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return ClassifyStatus(sc.HTTPStatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindTransport
}

// ClassifyStatus maps an HTTP status code to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound:
		return KindModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindTransport
	default:
		return KindInvalidResponse
	}
}
