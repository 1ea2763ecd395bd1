// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectPolicy_Delay(t *testing.T) {
	want := seconds(1, 2, 4, 8, 16, 32, 60, 60, 60)
	for k, d := range want {
		assert.Equal(t, d, ConnectPolicy.Delay(k+1), "attempt %d", k+1)
	}
}

func TestWritePolicy_DelayIsUncapped(t *testing.T) {
	assert.Equal(t, time.Second, WritePolicy.Delay(1))
	assert.Equal(t, 2*time.Second, WritePolicy.Delay(2))
	assert.Equal(t, 128*time.Second, WritePolicy.Delay(8))
}

func TestRetryPolicy_Delay_EdgeCases(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}

	assert.Equal(t, 500*time.Millisecond, p.Delay(0), "attempt below 1 treated as 1")
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(4))
	assert.Equal(t, 3*time.Second, p.Delay(1000))

	huge := RetryPolicy{BaseDelay: time.Second}
	assert.Positive(t, huge.Delay(200), "no overflow to negative")
	assert.Equal(t, huge.Delay(maxBackoffShift+1), huge.Delay(200), "doubling stops at the shift bound")
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
}
