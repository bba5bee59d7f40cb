package api

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// requestLogging logs one line per request; 5xx responses log at error.
func requestLogging(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			level := slog.LevelDebug
			if status >= 500 {
				level = slog.LevelError
			}
			log.Log(c.Request().Context(), level, "http request",
				"method", c.Request().Method,
				"route", c.Path(),
				"status", status,
				"elapsed", time.Since(start).Round(time.Microsecond),
			)
			return nil
		}
	}
}

// requestMetrics records request counts and latency by route template.
func requestMetrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "limitboard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "method", "status"})
	if reg != nil {
		if err := reg.Register(duration); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				duration = are.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration.WithLabelValues(
				c.Path(),
				c.Request().Method,
				strconv.Itoa(c.Response().Status),
			).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
