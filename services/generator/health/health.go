// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health tracks the generator's own operational state.
//
// # Description
//
// PipelineHealth is created once per process and shared by reference
// between the write path (scheduler, connection manager, writer) and the
// status surface. Every field is an independent atomic, so readers never
// block writers. No cross-field atomicity is provided: a snapshot taken
// during a write may mix old and new values field by field.
package health

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// Connection Status
// =============================================================================

// ConnectionStatus is the store connection state reported to operators.
type ConnectionStatus int32

const (
	// StatusDisconnected is the initial state before any connect attempt
	// has finished.
	StatusDisconnected ConnectionStatus = iota

	// StatusConnected means the last connect or write succeeded.
	StatusConnected

	// StatusError means a write exhausted its retries.
	StatusError

	// StatusFailed means connecting exhausted its retries.
	StatusFailed
)

// String returns the wire name used by the status surface.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// =============================================================================
// PipelineHealth
// =============================================================================

// PipelineHealth holds process-wide write pipeline counters and status.
//
// The zero value is not usable; construct with New.
type PipelineHealth struct {
	startTime time.Time

	status              atomic.Int32
	lastError           atomic.Pointer[string]
	totalWrites         atomic.Int64
	failedWrites        atomic.Int64
	lastSuccessfulWrite atomic.Int64 // unix nanos, 0 = never
}

// New creates PipelineHealth with start time startedAt and status
// disconnected.
func New(startedAt time.Time) *PipelineHealth {
	return &PipelineHealth{startTime: startedAt}
}

// StartTime returns the process start time recorded at construction.
func (h *PipelineHealth) StartTime() time.Time {
	return h.startTime
}

// Status returns the current connection status.
func (h *PipelineHealth) Status() ConnectionStatus {
	return ConnectionStatus(h.status.Load())
}

// SetStatus sets the connection status.
func (h *PipelineHealth) SetStatus(s ConnectionStatus) {
	h.status.Store(int32(s))
}

// LastError returns the most recent recorded error message, or "".
func (h *PipelineHealth) LastError() string {
	if p := h.lastError.Load(); p != nil {
		return *p
	}
	return ""
}

// SetLastError records err's message. A nil err clears it.
func (h *PipelineHealth) SetLastError(err error) {
	if err == nil {
		h.lastError.Store(nil)
		return
	}
	msg := err.Error()
	h.lastError.Store(&msg)
}

// MarkConnected sets status connected and clears the last error.
func (h *PipelineHealth) MarkConnected() {
	h.SetStatus(StatusConnected)
	h.SetLastError(nil)
}

// RecordWriteSuccess counts one successful batch write at at.
func (h *PipelineHealth) RecordWriteSuccess(at time.Time) {
	h.totalWrites.Add(1)
	h.lastSuccessfulWrite.Store(at.UnixNano())
	h.MarkConnected()
}

// RecordWriteFailure counts one failed write attempt and records err.
func (h *PipelineHealth) RecordWriteFailure(err error) {
	h.failedWrites.Add(1)
	h.SetLastError(err)
}

// TotalWrites returns the number of successful batch writes.
func (h *PipelineHealth) TotalWrites() int64 {
	return h.totalWrites.Load()
}

// FailedWrites returns the number of failed write attempts.
func (h *PipelineHealth) FailedWrites() int64 {
	return h.failedWrites.Load()
}

// LastSuccessfulWrite returns the time of the last successful write and
// whether one has happened.
func (h *PipelineHealth) LastSuccessfulWrite() (time.Time, bool) {
	n := h.lastSuccessfulWrite.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is a point-in-time copy of PipelineHealth.
type Snapshot struct {
	ConnectionStatus    ConnectionStatus
	LastError           string
	TotalWrites         int64
	FailedWrites        int64
	LastSuccessfulWrite time.Time // zero when no write has succeeded
	StartTime           time.Time
}

// Snapshot reads every field once.
func (h *PipelineHealth) Snapshot() Snapshot {
	last, _ := h.LastSuccessfulWrite()
	return Snapshot{
		ConnectionStatus:    h.Status(),
		LastError:           h.LastError(),
		TotalWrites:         h.TotalWrites(),
		FailedWrites:        h.FailedWrites(),
		LastSuccessfulWrite: last,
		StartTime:           h.startTime,
	}
}

// SuccessRate returns (total − failed) / max(total, 1) × 100, floored at 0.
//
// The same formula backs /health and /metrics.
func (s Snapshot) SuccessRate() float64 {
	denom := s.TotalWrites
	if denom < 1 {
		denom = 1
	}
	rate := float64(s.TotalWrites-s.FailedWrites) / float64(denom) * 100
	if rate < 0 {
		return 0
	}
	return rate
}

// Uptime returns the time elapsed between StartTime and now.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}
