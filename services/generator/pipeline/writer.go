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
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConnSource yields the connection to write through. *ConnectionManager
// implements it.
type ConnSource interface {
	Current() store.Conn
}

// BetweenAttempts runs after the backoff sleep that follows a failed
// write attempt, before the next attempt.
type BetweenAttempts func(ctx context.Context)

// WriterConfig configures a Writer.
//
// # Fields
//
//   - Conns: Connection source. Required.
//   - Health: Shared health state. Required.
//   - Metrics: Optional Prometheus instruments.
//   - Policy: Retry policy. Zero value selects WritePolicy.
//   - Sleep: Backoff sleeper. Nil selects SleepContext.
//   - Now: Clock. Nil selects time.Now.
//   - Logger: Nil selects slog.Default().
type WriterConfig struct {
	Conns   ConnSource
	Health  *health.PipelineHealth
	Metrics *observability.Metrics
	Policy  RetryPolicy
	Sleep   Sleeper
	Now     func() time.Time
	Logger  *slog.Logger
}

func applyWriterDefaults(cfg *WriterConfig) {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = WritePolicy
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Writer persists batches through the current connection.
type Writer struct {
	cfg WriterConfig
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) *Writer {
	applyWriterDefaults(&cfg)
	return &Writer{cfg: cfg}
}

// Write persists one batch with bounded retry.
//
// # Description
//
// Every attempt is timed. On success: total_writes is incremented,
// last_successful_write set, status marked connected, last_error cleared,
// and Write returns true. On failure: failed_writes is incremented and the
// WriteError recorded; if attempts remain, Write sleeps
// Policy.Delay(attempt) and then calls between (if non-nil). After the
// final failure status becomes error and Write returns false.
//
// A missing connection counts as a failed attempt with ErrNotConnected.
//
// # Inputs
//
//   - ctx: Cancelling ctx aborts the backoff and ends the call as failed.
//   - records: The batch.
//   - between: Hook run between attempts, typically a liveness check that
//     reconnects on failure.
func (w *Writer) Write(ctx context.Context, records []synth.Record, between BetweenAttempts) bool {
	policy := w.cfg.Policy
	ctx, span := tracer.Start(ctx, "pipeline.Write",
		trace.WithAttributes(
			attribute.Int("batch.records", len(records)),
			attribute.Int("retry.max_attempts", policy.MaxAttempts),
		),
	)
	defer span.End()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		start := w.cfg.Now()
		err := w.writeOnce(ctx, records)
		elapsed := w.cfg.Now().Sub(start)
		w.cfg.Metrics.ObserveWrite(err == nil, elapsed)

		if err == nil {
			w.cfg.Health.RecordWriteSuccess(w.cfg.Now())
			w.cfg.Logger.Info("Wrote batch",
				slog.Int("records", len(records)),
				slog.Int("attempt", attempt),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
			)
			span.SetAttributes(attribute.Int("retry.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return true
		}

		werr := &WriteError{Attempt: attempt, MaxAttempts: policy.MaxAttempts, Records: len(records), Err: err}
		w.cfg.Health.RecordWriteFailure(werr)
		span.RecordError(werr)

		if attempt == policy.MaxAttempts {
			w.cfg.Logger.Error("Write attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
				slog.String("error", err.Error()),
			)
			break
		}

		delay := policy.Delay(attempt)
		w.cfg.Logger.Warn("Write attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := w.cfg.Sleep(ctx, delay); err != nil {
			break
		}
		if between != nil {
			between(ctx)
		}
	}

	w.cfg.Health.SetStatus(health.StatusError)
	w.cfg.Logger.Error("Failed to write batch after all attempts",
		slog.Int("records", len(records)),
		slog.Int("max_attempts", policy.MaxAttempts),
	)
	span.SetStatus(codes.Error, "write attempts exhausted")
	return false
}

func (w *Writer) writeOnce(ctx context.Context, records []synth.Record) error {
	conn := w.cfg.Conns.Current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, records)
}
