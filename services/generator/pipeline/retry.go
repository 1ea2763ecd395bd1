// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline persists synthesized batches with bounded retries.
//
// # Description
//
// Two independent retry policies live here:
//
//	ConnectPolicy  10 attempts, 1s base, doubling, capped at 60s
//	WritePolicy     3 attempts, 1s base, doubling, uncapped
//
// ConnectionManager applies ConnectPolicy when (re)opening the store
// connection. Writer applies WritePolicy to a single batch. Writer never
// reconnects on its own; the caller passes a hook that runs between write
// attempts and decides whether to reconnect.
//
// # Thread Safety
//
// Connect calls are serialized. The current connection is published
// atomically so the status surface can ping it while the scheduler writes.
package pipeline

import (
	"context"
	"time"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy describes bounded exponential backoff.
//
// # Fields
//
//   - MaxAttempts: Total attempts including the first.
//   - BaseDelay: Delay after the first failed attempt.
//   - MaxDelay: Upper bound for any delay. Zero means uncapped.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ConnectPolicy governs store connection establishment.
var ConnectPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   time.Second,
	MaxDelay:    60 * time.Second,
}

// WritePolicy governs a single batch write.
var WritePolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// Delay returns the wait between attempt and attempt+1:
// BaseDelay × 2^(attempt−1), limited to MaxDelay when MaxDelay > 0.
//
// # Examples
//
//	ConnectPolicy.Delay(1) == 1s
//	ConnectPolicy.Delay(7) == 60s  // 64s capped
//	WritePolicy.Delay(2)   == 2s
func (p RetryPolicy) Delay(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), maxBackoffShift)
	d := p.BaseDelay << shift
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// maxBackoffShift bounds the doubling so second-scale bases cannot
// overflow time.Duration.
const maxBackoffShift = 30

// =============================================================================
// Sleeping
// =============================================================================

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the
// latter case. Tests substitute a recorder.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
