// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator wires the EdgeWorker cold-start telemetry generator.
//
// # Description
//
// The generator fabricates per-PoP, per-function cold-start latencies,
// injects transient regressions, and writes one batch every 10 seconds to
// InfluxDB. A status surface reports its own health alongside.
//
//	catalog ─► regression ─► synth ─► pipeline ─► store (InfluxDB)
//	                 ▲                    ▲
//	                 └──── scheduler ─────┘
//	health ◄── pipeline/scheduler      status ──► health, regression
//
// PipelineHealth and the regression model are owned by the Service and
// handed by reference to every component that needs them.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
	"github.com/AleutianAI/edgeworker-detector/services/generator/config"
	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/AleutianAI/edgeworker-detector/services/generator/pipeline"
	"github.com/AleutianAI/edgeworker-detector/services/generator/regression"
	"github.com/AleutianAI/edgeworker-detector/services/generator/scheduler"
	"github.com/AleutianAI/edgeworker-detector/services/generator/status"
	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// stdoutEndpoint selects the stdout span exporter instead of OTLP.
const stdoutEndpoint = "stdout"

// =============================================================================
// Service
// =============================================================================

// Service is one running generator process.
type Service struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	catalog   *catalog.Catalog
	health    *health.PipelineHealth
	model     *regression.Model
	metrics   *observability.Metrics
	connector *store.InfluxConnector
	manager   *pipeline.ConnectionManager
	scheduler *scheduler.Scheduler
	status    *status.Server

	tracerCleanup func(context.Context)
}

// New builds every component from cfg. No network I/O happens until Run.
//
// # Description
//
//  1. Loads the PoP catalog (built-in or cfg.Catalog.Path)
//  2. Initializes tracing when an OTLP endpoint is configured
//  3. Creates the Prometheus registry and instruments
//  4. Wires health, regression model, synthesizer, pipeline, scheduler
//     and status surface
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - logger: Base logger. Nil selects slog.Default().
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Catalog or tracer initialization failures.
func New(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	s := &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("run_id", runID)),
		runID:  runID,
		health: health.New(time.Now()),
	}

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	s.catalog = cat

	cleanup, err := initTracer(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(reg)

	s.model = regression.New(newRand(), s.metrics)
	synthesizer := synth.New(s.model, newRand())

	s.connector = store.NewInfluxConnector(store.InfluxConfig{
		URL:     cfg.InfluxDB.URL,
		Token:   cfg.InfluxDB.Token,
		Org:     cfg.InfluxDB.Org,
		Bucket:  cfg.InfluxDB.Bucket,
		Timeout: cfg.InfluxDB.Timeout,
	})
	s.manager = pipeline.NewConnectionManager(pipeline.ConnectionManagerConfig{
		Connector: s.connector,
		Health:    s.health,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	writer := pipeline.NewWriter(pipeline.WriterConfig{
		Conns:   s.manager,
		Health:  s.health,
		Metrics: s.metrics,
		Logger:  s.logger,
	})

	s.scheduler = scheduler.New(scheduler.Config{
		Pops:        cat.All(),
		Functions:   synth.DefaultFunctions,
		Synth:       synthesizer,
		Regressions: s.model,
		Conn:        s.manager,
		Writer:      writer,
		Health:      s.health,
		Metrics:     s.metrics,
		Logger:      s.logger,
	})

	if cfg.Status.GinMode != "" {
		gin.SetMode(cfg.Status.GinMode)
	}
	s.status = status.NewServer(status.Config{
		Health:      s.health,
		Store:       s.manager,
		Regressions: s.model,
		Catalog:     cat,
		Target:      s.connector.Target(),
		Metrics:     s.metrics,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      s.logger,
	})

	return s, nil
}

// Run serves status and runs the scheduler until ctx is cancelled or the
// status server fails.
//
// # Outputs
//
//   - error: nil after a clean shutdown, otherwise the first failure.
func (s *Service) Run(ctx context.Context) error {
	defer s.cleanup()

	s.logger.Info("Starting EdgeWorker metrics generator",
		slog.String("influxdb_url", s.cfg.InfluxDB.URL),
		slog.String("bucket", s.cfg.InfluxDB.Bucket),
		slog.String("status_addr", s.cfg.Status.Addr()),
		slog.Time("started_at", s.health.StartTime()),
	)
	s.logger.Info(fmt.Sprintf("Monitoring %d PoPs across %d countries", s.catalog.Len(), s.catalog.Countries()),
		slog.Int("functions", len(synth.DefaultFunctions)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.status.Serve(gctx, s.cfg.Status.Addr())
	})
	g.Go(func() error {
		if err := s.scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("Generator stopped",
		slog.Int64("total_writes", s.health.TotalWrites()),
		slog.Int64("failed_writes", s.health.FailedWrites()),
	)
	return err
}

// Health returns the shared health state.
func (s *Service) Health() *health.PipelineHealth {
	return s.health
}

// Status returns the status server.
func (s *Service) Status() *status.Server {
	return s.status
}

func (s *Service) cleanup() {
	s.manager.Close()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Helpers
// =============================================================================

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.MustDefault(), nil
	}
	return catalog.LoadFile(path)
}

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// initTracer installs the global tracer provider.
//
// # Description
//
// An empty endpoint leaves the default no-op provider in place. The value
// "stdout" writes spans to stdout. Anything else is an OTLP gRPC collector
// address.
//
// # Outputs
//
//   - func(context.Context): Flushes and stops the provider. Never nil.
//   - error: Exporter or resource creation failures.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func initTracer(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context), error) {
	if cfg.Endpoint == "" {
		return func(context.Context) {}, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.Endpoint == stdoutEndpoint {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		conn, err := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}
