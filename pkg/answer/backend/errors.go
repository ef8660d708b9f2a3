package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies backend failures
type Kind string

const (
	KindRateLimit      Kind = "rate_limit"
	KindTimeout        Kind = "timeout"
	KindAuth           Kind = "auth"
	KindNetwork        Kind = "network"
	KindServer         Kind = "server"
	KindInvalidRequest Kind = "invalid_request"
)

// Error is a classified backend failure
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Only network and
// server failures are retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// KindOf returns the kind of a backend error anywhere in err's chain
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err is a retryable backend error
func IsRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Retryable()
}

// KindForStatus maps an HTTP status code to a failure kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	default:
		return KindInvalidRequest
	}
}

// classifyTransport maps errors that carry no HTTP status
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
