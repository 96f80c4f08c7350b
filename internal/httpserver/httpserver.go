// Package httpserver holds the echo setup shared by the caller API and the
// agent endpoint.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/logging"
)

// CorrelationHeader carries the correlation id on requests and responses.
const CorrelationHeader = "X-Correlation-ID"

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// New returns an echo instance with recovery, request ids, correlation ids,
// request logging, /healthz and, when gatherer is non-nil, /metrics.
func New(log *logging.Logger, gatherer prometheus.Gatherer) *echo.Echo {
	if log == nil {
		log = logging.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(correlation)
	e.Use(requestLogger(log))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	})
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return e
}

// correlation puts the request's correlation id, or a fresh one, on the
// request context and echoes it in the response.
func correlation(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id := req.Header.Get(CorrelationHeader)
		if id == "" {
			id = logging.NewID()
		}
		c.SetRequest(req.WithContext(logging.WithCorrelationID(req.Context(), id)))
		c.Response().Header().Set(CorrelationHeader, id)
		return next(c)
	}
}

func requestLogger(log *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
// within timeout.
func Serve(ctx context.Context, e *echo.Echo, addr string, timeout time.Duration, log *logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting http server", zap.String("addr", addr))
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.WithoutCancel(ctx), "shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
