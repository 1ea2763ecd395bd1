// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("edgeworker.pipeline")

// =============================================================================
// Configuration
// =============================================================================

// ConnectionManagerConfig configures a ConnectionManager.
//
// # Fields
//
//   - Connector: Opens store connections. Required.
//   - Health: Shared health state. Required.
//   - Metrics: Optional Prometheus instruments.
//   - Policy: Retry policy. Zero value selects ConnectPolicy.
//   - Sleep: Backoff sleeper. Nil selects SleepContext.
//   - Logger: Nil selects slog.Default().
type ConnectionManagerConfig struct {
	Connector store.Connector
	Health    *health.PipelineHealth
	Metrics   *observability.Metrics
	Policy    RetryPolicy
	Sleep     Sleeper
	Logger    *slog.Logger
}

func applyConnectionDefaults(cfg *ConnectionManagerConfig) {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = ConnectPolicy
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// =============================================================================
// ConnectionManager
// =============================================================================

type connHolder struct {
	conn store.Conn
}

// ConnectionManager owns the current store connection.
type ConnectionManager struct {
	cfg ConnectionManagerConfig

	connectMu sync.Mutex
	current   atomic.Pointer[connHolder]
}

// NewConnectionManager creates a manager with no connection. Status stays
// whatever Health already holds (disconnected for a fresh process).
func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	applyConnectionDefaults(&cfg)
	return &ConnectionManager{cfg: cfg}
}

// Connect opens a fresh connection, retrying under the configured policy.
//
// # Description
//
// Each attempt opens a connection and checks liveness. The first success
// replaces (and closes) any previous connection, marks health connected
// and returns true. Each failure records a ConnectionError as last_error
// and, if attempts remain, sleeps Policy.Delay(attempt). When all attempts
// fail the previous connection is dropped, status becomes failed and
// Connect returns false.
//
// # Outputs
//
//   - bool: Whether a live connection is now installed. Also false when
//     ctx is cancelled during backoff; status is left unchanged then.
//
// # Thread Safety
//
// Concurrent calls are serialized.
func (m *ConnectionManager) Connect(ctx context.Context) bool {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	policy := m.cfg.Policy
	ctx, span := tracer.Start(ctx, "pipeline.Connect",
		trace.WithAttributes(attribute.Int("retry.max_attempts", policy.MaxAttempts)),
	)
	defer span.End()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		conn, err := m.cfg.Connector.Connect(ctx)
		m.cfg.Metrics.ObserveConnectAttempt(err == nil)

		if err == nil {
			m.install(conn)
			m.cfg.Health.MarkConnected()
			m.cfg.Logger.Info("Connected to store", slog.Int("attempt", attempt))
			span.SetAttributes(attribute.Int("retry.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return true
		}

		cerr := &ConnectionError{Attempt: attempt, MaxAttempts: policy.MaxAttempts, Err: err}
		m.cfg.Health.SetLastError(cerr)
		span.RecordError(cerr)

		if attempt == policy.MaxAttempts {
			m.cfg.Logger.Error("Connection attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.String("error", err.Error()),
			)
			break
		}

		delay := policy.Delay(attempt)
		m.cfg.Logger.Warn("Connection attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := m.cfg.Sleep(ctx, delay); err != nil {
			span.SetStatus(codes.Error, "context canceled")
			return false
		}
	}

	m.install(nil)
	m.cfg.Health.SetStatus(health.StatusFailed)
	m.cfg.Logger.Error("Failed to connect to store after all attempts",
		slog.Int("max_attempts", policy.MaxAttempts),
	)
	span.SetStatus(codes.Error, "connect attempts exhausted")
	return false
}

// Current returns the live connection, or nil.
func (m *ConnectionManager) Current() store.Conn {
	if h := m.current.Load(); h != nil {
		return h.conn
	}
	return nil
}

// Ping checks liveness of the current connection.
//
// # Outputs
//
//   - error: ErrNotConnected when there is no connection, otherwise the
//     store's liveness error.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	conn := m.Current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Ping(ctx)
}

// Close drops and closes the current connection.
func (m *ConnectionManager) Close() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.install(nil)
}

func (m *ConnectionManager) install(conn store.Conn) {
	var next *connHolder
	if conn != nil {
		next = &connHolder{conn: conn}
	}
	if old := m.current.Swap(next); old != nil && old.conn != nil {
		old.conn.Close()
	}
}
