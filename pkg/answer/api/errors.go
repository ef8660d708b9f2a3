package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/answercache/pkg/answer"
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
)

// ErrorCode is a stable, machine readable error identifier
type ErrorCode string

// Error codes
const (
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrBackendFailed      ErrorCode = "BACKEND_FAILED"
	ErrBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Code         ErrorCode `json:"code"`
	Message      string    `json:"message"`
	Scope        string    `json:"scope,omitempty"`
	RetryAfterMs int64     `json:"retry_after_ms,omitempty"`
}

func abort(c *gin.Context, status int, code ErrorCode, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}

// respondError maps service errors to HTTP replies
func respondError(c *gin.Context, err error) {
	if limitErr, ok := ratelimit.IsLimitError(err); ok {
		seconds := int64(math.Ceil(limitErr.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Code:         ErrTooManyRequests,
			Message:      err.Error(),
			Scope:        string(limitErr.Scope),
			RetryAfterMs: limitErr.RetryAfter.Milliseconds(),
		})
		return
	}

	switch {
	case errors.Is(err, answer.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	case errors.Is(err, answer.ErrNoBackend), errors.Is(err, answer.ErrDisabled):
		abort(c, http.StatusServiceUnavailable, ErrServiceUnavailable, err.Error())
		return
	}

	if kind, ok := backend.KindOf(err); ok {
		switch kind {
		case backend.KindTimeout:
			abort(c, http.StatusGatewayTimeout, ErrBackendTimeout, err.Error())
		case backend.KindRateLimit:
			abort(c, http.StatusTooManyRequests, ErrTooManyRequests, err.Error())
		default:
			abort(c, http.StatusBadGateway, ErrBackendFailed, err.Error())
		}
		return
	}

	abort(c, http.StatusInternalServerError, ErrInternalServer, err.Error())
}
