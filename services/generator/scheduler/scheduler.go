// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler drives the generate-and-write loop.
//
// # Description
//
// Run blocks until the initial store connection succeeds (retrying every
// ReconnectInterval), runs one cycle immediately, then one cycle per
// Interval until ctx is cancelled. Cycles never overlap and backoff sleeps
// delay the next tick rather than running beside it.
//
// The scheduler alone decides when to reconnect:
//   - between write attempts, when the liveness check fails
//   - after a failed write, when status is no longer connected
//   - after a cycle panics
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/AleutianAI/edgeworker-detector/services/generator/pipeline"
	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("edgeworker.scheduler")

const (
	// DefaultInterval is the time between generation cycles.
	DefaultInterval = 10 * time.Second

	// DefaultReconnectInterval is the wait between initial connection
	// rounds while the store is unavailable.
	DefaultReconnectInterval = 10 * time.Second
)

// =============================================================================
// Collaborators
// =============================================================================

// Connection is the store connection as seen by the scheduler.
// *pipeline.ConnectionManager implements it.
type Connection interface {
	Connect(ctx context.Context) bool
	Ping(ctx context.Context) error
}

// BatchWriter persists a batch. *pipeline.Writer implements it.
type BatchWriter interface {
	Write(ctx context.Context, records []synth.Record, between pipeline.BetweenAttempts) bool
}

// Synthesizer produces a batch. *synth.Synthesizer implements it.
type Synthesizer interface {
	Batch(pops []catalog.PoP, functions []string, now time.Time) []synth.Record
}

// RegressionCounter reports how many PoPs are regressed.
// *regression.Model implements it.
type RegressionCounter interface {
	ActiveCount() int
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Scheduler.
//
// # Fields
//
//   - Pops, Functions: Batch composition. Required.
//   - Synth, Conn, Writer, Health: Required collaborators.
//   - Regressions: Optional, for the per-cycle summary.
//   - Metrics: Optional Prometheus instruments.
//   - Interval: Default DefaultInterval.
//   - ReconnectInterval: Default DefaultReconnectInterval.
//   - Now: Clock. Default time.Now.
//   - Sleep: Used while waiting to reconnect. Default pipeline.SleepContext.
//   - Logger: Default slog.Default().
type Config struct {
	Pops        []catalog.PoP
	Functions   []string
	Synth       Synthesizer
	Regressions RegressionCounter
	Conn        Connection
	Writer      BatchWriter
	Health      *health.PipelineHealth
	Metrics     *observability.Metrics

	Interval          time.Duration
	ReconnectInterval time.Duration
	Now               func() time.Time
	Sleep             pipeline.Sleeper
	Logger            *slog.Logger
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = pipeline.SleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs generation cycles sequentially.
type Scheduler struct {
	cfg Config
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	applyConfigDefaults(&cfg)
	return &Scheduler{cfg: cfg}
}

// Run connects, then runs cycles until ctx is cancelled.
//
// # Outputs
//
//   - error: ctx.Err() once cancelled. Store and generation failures never
//     end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cfg.Logger.Info("Scheduler starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("pops", len(s.cfg.Pops)),
		slog.Int("functions", len(s.cfg.Functions)),
	)

	for !s.cfg.Conn.Connect(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cfg.Logger.Warn("Store unavailable, will retry connecting",
			slog.Duration("retry_in", s.cfg.ReconnectInterval),
		)
		if err := s.cfg.Sleep(ctx, s.cfg.ReconnectInterval); err != nil {
			return err
		}
	}

	s.RunCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle synthesizes one batch and writes it.
//
// # Description
//
// A panic anywhere in the cycle is recovered, recorded as a SynthesisError
// counted in failed_writes, and followed by a reconnect attempt. After a
// failed write with status not connected, RunCycle reconnects before
// returning. The reconnect runs outside the recovered cycle with its own
// recover, so no failure escapes RunCycle.
//
// # Outputs
//
//   - bool: Whether the batch was written.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	cycleID := uuid.NewString()
	logger := s.cfg.Logger.With(slog.String("cycle_id", cycleID))

	ok, reconnect := s.cycle(ctx, cycleID, logger)
	if reconnect && ctx.Err() == nil {
		s.reconnect(ctx, logger)
	}
	return ok
}

// cycle runs one generate-and-write pass and reports whether the batch was
// written and whether the caller should reconnect.
func (s *Scheduler) cycle(ctx context.Context, cycleID string, logger *slog.Logger) (ok, reconnect bool) {
	ctx, span := tracer.Start(ctx, "scheduler.Cycle",
		trace.WithAttributes(attribute.String("cycle.id", cycleID)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := newSynthesisError(r)
			ok, reconnect = false, true
			s.cfg.Health.RecordWriteFailure(err)
			s.cfg.Metrics.ObserveCycle(false, 0)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Generation cycle failed",
				slog.String("error", err.Error()),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	now := s.cfg.Now()
	records := s.cfg.Synth.Batch(s.cfg.Pops, s.cfg.Functions, now)
	for _, r := range records {
		s.cfg.Metrics.ObserveColdStart(string(r.PoP.Tier), r.ColdStartMs)
	}
	span.SetAttributes(attribute.Int("batch.records", len(records)))

	ok = s.cfg.Writer.Write(ctx, records, s.betweenWrites(logger))
	s.cfg.Metrics.ObserveCycle(ok, len(records))
	s.logRegressions(logger)

	if ok {
		span.SetStatus(codes.Ok, "")
		return true, false
	}

	span.SetStatus(codes.Error, "write failed")
	if s.cfg.Health.Status() != health.StatusConnected {
		logger.Warn("Write failed and store is not connected, reconnecting",
			slog.String("connection_status", s.cfg.Health.Status().String()),
		)
		return false, true
	}
	return false, false
}

// reconnect runs one connection round. A panic inside it is recorded as
// the last error and logged.
func (s *Scheduler) reconnect(ctx context.Context, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("reconnect failed: %v", r)
			s.cfg.Health.SetLastError(err)
			logger.Error("Reconnect failed",
				slog.String("error", err.Error()),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	s.cfg.Conn.Connect(ctx)
}

// betweenWrites checks liveness between write attempts and reconnects if
// the check fails.
func (s *Scheduler) betweenWrites(logger *slog.Logger) pipeline.BetweenAttempts {
	return func(ctx context.Context) {
		err := s.cfg.Conn.Ping(ctx)
		if err == nil {
			return
		}
		logger.Warn("Liveness check failed between write attempts, reconnecting",
			slog.String("error", err.Error()),
		)
		s.cfg.Conn.Connect(ctx)
	}
}

func (s *Scheduler) logRegressions(logger *slog.Logger) {
	if s.cfg.Regressions == nil {
		return
	}
	active := s.cfg.Regressions.ActiveCount()
	s.cfg.Metrics.SetActiveRegressions(active)
	if active > 0 {
		logger.Warn("PoPs currently regressed", slog.Int("count", active))
	}
}

// =============================================================================
// Errors
// =============================================================================

// SynthesisError reports an unexpected failure inside a cycle.
type SynthesisError struct {
	// Value is the recovered panic value.
	Value any
	Err   error
}

func newSynthesisError(v any) *SynthesisError {
	e := &SynthesisError{Value: v}
	if err, isErr := v.(error); isErr {
		e.Err = err
	}
	return e
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("generation cycle failed: %v", e.Value)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
