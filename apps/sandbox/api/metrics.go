package sandboxapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elimu",
			Subsystem: "sandbox",
			Name:      "requests_total",
			Help:      "API requests by path, method and status code.",
		},
		[]string{"path", "method", "code"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "elimu",
			Subsystem: "sandbox",
			Name:      "request_duration_seconds",
			Help:      "API request latency by path.",
		},
		[]string{"path"},
	)
)

// metricsMiddleware records request counts and latencies.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			path := ctx.Path() // route template, not raw URL
			if path == "" {
				path = ctx.Request().URL.Path
			}
			requestsTotal.WithLabelValues(path, ctx.Request().Method, strconv.Itoa(ctx.Response().Status)).Inc()
			requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
