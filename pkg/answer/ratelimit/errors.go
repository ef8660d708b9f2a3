package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Scope names the window that rejected a call
type Scope string

const (
	ScopeMinute Scope = "minute"
	ScopeDaily  Scope = "daily"
)

var (
	// ErrWaitTimeout is returned by WaitForAvailability when maxWait elapses.
	// It is never a *LimitError.
	ErrWaitTimeout = errors.New("timed out waiting for rate limit availability")

	// ErrUnknownTier is returned for tiers missing from the table
	ErrUnknownTier = errors.New("unknown rate limit tier")
)

// LimitError is returned when a window is exhausted
type LimitError struct {
	Scope      Scope
	RetryAfter time.Duration
	Limit      int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s limit %d), retry after %s", e.Scope, e.Limit, e.RetryAfter)
}

// IsLimitError reports whether err is a *LimitError and returns it
func IsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
