// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package status serves the generator's read-only operational surface.
//
// # Description
//
// Routes:
//
//	GET /health              200 healthy, 503 degraded/unhealthy, 500 on error
//	GET /metrics             200 JSON counters and regression details
//	GET /metrics/prometheus  Prometheus text exposition
//
// Handlers only read PipelineHealth and regression state, so repeated
// requests without an intervening cycle return the same body apart from
// timestamp and uptime.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/AleutianAI/edgeworker-detector/services/generator/regression"
	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	defaultPingTimeout     = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultServiceName     = "edgeworker-generator"
)

// Pinger checks store liveness. *pipeline.ConnectionManager implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegressionView lists active regressions. *regression.Model implements it.
type RegressionView interface {
	Active() []regression.State
}

// Config configures a Server.
//
// # Fields
//
//   - Health, Store, Regressions, Catalog: Required data sources.
//   - Target: Store URL and bucket shown by /metrics.
//   - Metrics: Registry served at /metrics/prometheus. May be nil.
//   - Now: Clock. Default time.Now.
//   - PingTimeout: Bound on the /health liveness check. Default 5s.
//   - ServiceName: otelgin service name.
//   - Logger: Default slog.Default().
type Config struct {
	Health      *health.PipelineHealth
	Store       Pinger
	Regressions RegressionView
	Catalog     *catalog.Catalog
	Target      store.Target
	Metrics     *observability.Metrics

	Now         func() time.Time
	PingTimeout time.Duration
	ServiceName string
	Logger      *slog.Logger
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Server is the status HTTP surface.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// NewServer builds the router. No listener is opened until Serve.
func NewServer(cfg Config) *Server {
	applyConfigDefaults(&cfg)
	s := &Server{cfg: cfg}

	s.router = gin.New()
	s.router.Use(gin.CustomRecovery(s.recoverInternal))
	s.router.Use(otelgin.Middleware(cfg.ServiceName))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics)
	s.router.GET("/metrics/prometheus", gin.WrapH(cfg.Metrics.Handler()))
	return s
}

// Router returns the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down with a
// bounded grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("Status server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.cfg.Logger.Info("Status server stopped")
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	resp := s.HealthReport(c.Request.Context())
	code := http.StatusOK
	if resp.Status != StateHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.MetricsReport())
}

// recoverInternal renders a panic inside a handler as HTTP 500.
func (s *Server) recoverInternal(c *gin.Context, recovered any) {
	s.cfg.Logger.Error("Status request failed",
		slog.String("path", c.Request.URL.Path),
		slog.Any("error", recovered),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Status:    StateError,
		Error:     fmt.Sprint(recovered),
		Timestamp: formatTime(s.cfg.Now()),
	})
}

// =============================================================================
// Reports
// =============================================================================

// HealthReport builds the /health body, running a live store check.
//
// # Description
//
// Status derivation, first match wins:
//   - unhealthy: liveness check fails, or connection status is failed
//   - degraded: connection status is error, or at least one write and a
//     success rate below 90%
//   - healthy
func (s *Server) HealthReport(ctx context.Context) HealthResponse {
	now := s.cfg.Now()

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	pingErr := s.cfg.Store.Ping(pingCtx)
	cancel()

	snap := s.cfg.Health.Snapshot()
	counters := writeCounters(snap)

	return HealthResponse{
		Status:        deriveState(pingErr == nil, snap, counters.SuccessRatePercent),
		Timestamp:     formatTime(now),
		UptimeSeconds: snap.Uptime(now).Seconds(),
		InfluxDB: StoreHealth{
			ConnectionStatus: snap.ConnectionStatus.String(),
			Healthy:          pingErr == nil,
			LastError:        optional(snap.LastError),
		},
		Metrics: counters,
		PoPs: MonitoredPoPs{
			TotalMonitored:     s.cfg.Catalog.Len(),
			CurrentlyRegressed: len(s.cfg.Regressions.Active()),
		},
	}
}

// MetricsReport builds the /metrics body.
func (s *Server) MetricsReport() MetricsResponse {
	snap := s.cfg.Health.Snapshot()
	active := s.cfg.Regressions.Active()

	details := make([]RegressedDetail, 0, len(active))
	for _, st := range active {
		d := RegressedDetail{
			PoPCode:         st.PoPCode,
			RegressionStart: formatTime(st.StartedAt),
			DurationSeconds: st.DurationSeconds,
		}
		if pop, ok := s.cfg.Catalog.Lookup(st.PoPCode); ok {
			d.City = pop.City
			d.Country = pop.Country
		}
		details = append(details, d)
	}

	total := s.cfg.Catalog.Len()
	return MetricsResponse{
		Timestamp: formatTime(s.cfg.Now()),
		Generator: writeCounters(snap),
		PoPs: PoPBreakdown{
			Total:            total,
			Healthy:          total - len(active),
			Regressed:        len(active),
			RegressedDetails: details,
		},
		InfluxDB: StoreTarget{
			ConnectionStatus: snap.ConnectionStatus.String(),
			URL:              s.cfg.Target.URL,
			Bucket:           s.cfg.Target.Bucket,
			LastError:        optional(snap.LastError),
		},
	}
}

func deriveState(storeHealthy bool, snap health.Snapshot, successRate float64) string {
	switch {
	case !storeHealthy || snap.ConnectionStatus == health.StatusFailed:
		return StateUnhealthy
	case snap.ConnectionStatus == health.StatusError,
		snap.TotalWrites > 0 && successRate < degradedBelowPercent:
		return StateDegraded
	default:
		return StateHealthy
	}
}

func writeCounters(snap health.Snapshot) WriteCounters {
	wc := WriteCounters{
		TotalWrites:        snap.TotalWrites,
		FailedWrites:       snap.FailedWrites,
		SuccessRatePercent: snap.SuccessRate(),
	}
	if !snap.LastSuccessfulWrite.IsZero() {
		ts := formatTime(snap.LastSuccessfulWrite)
		wc.LastSuccessfulWrite = &ts
	}
	return wc
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
