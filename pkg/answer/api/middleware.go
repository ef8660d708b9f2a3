package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/developer-mesh/answercache/pkg/observability"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "answercache",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "answercache",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RequestLogger logs every request once it completes
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("Request failed", fields)
		case c.Writer.Status() >= 400:
			logger.Info("Request rejected", fields)
		default:
			logger.Debug("Request completed", fields)
		}
	}
}

// MetricsMiddleware counts requests and observes latency per route template
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// TracingMiddleware opens a span per request
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := observability.StartSpan(c.Request.Context(), "answer.api."+c.Request.Method)
		defer span.End()
		span.SetAttribute("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttribute("http.status_code", c.Writer.Status())
	}
}
