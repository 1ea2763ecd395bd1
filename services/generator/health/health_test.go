// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

func TestNew_InitialState(t *testing.T) {
	h := New(start)
	snap := h.Snapshot()

	assert.Equal(t, StatusDisconnected, snap.ConnectionStatus)
	assert.Empty(t, snap.LastError)
	assert.Zero(t, snap.TotalWrites)
	assert.Zero(t, snap.FailedWrites)
	assert.True(t, snap.LastSuccessfulWrite.IsZero())
	assert.Equal(t, start, snap.StartTime)
	assert.Equal(t, start, h.StartTime())
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "disconnected", ConnectionStatus(42).String())
}

func TestRecordWriteSuccess(t *testing.T) {
	h := New(start)
	h.SetStatus(StatusError)
	h.SetLastError(errors.New("boom"))

	at := start.Add(time.Minute)
	h.RecordWriteSuccess(at)

	last, ok := h.LastSuccessfulWrite()
	assert.True(t, ok)
	assert.True(t, at.Equal(last))
	assert.Equal(t, int64(1), h.TotalWrites())
	assert.Equal(t, StatusConnected, h.Status())
	assert.Empty(t, h.LastError())
}

func TestRecordWriteFailure(t *testing.T) {
	h := New(start)
	h.RecordWriteFailure(errors.New("write timed out"))
	h.RecordWriteFailure(errors.New("bucket not found"))

	assert.Equal(t, int64(2), h.FailedWrites())
	assert.Equal(t, "bucket not found", h.LastError())
	assert.Equal(t, StatusDisconnected, h.Status(), "failures do not change status by themselves")
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name          string
		total, failed int64
		want          float64
	}{
		{"fresh", 0, 0, 0},
		{"all good", 10, 0, 100},
		{"one in ten failed", 10, 1, 90},
		{"more failures than writes floors at zero", 1, 3, 0},
		{"failures without writes", 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{TotalWrites: tt.total, FailedWrites: tt.failed}
			assert.InDelta(t, tt.want, s.SuccessRate(), 1e-9)
		})
	}
}

func TestUptime(t *testing.T) {
	s := New(start).Snapshot()
	assert.Equal(t, 90*time.Second, s.Uptime(start.Add(90*time.Second)))
}

func TestConcurrentMutationAndRead(t *testing.T) {
	h := New(start)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				h.RecordWriteSuccess(start.Add(time.Duration(j) * time.Second))
				h.RecordWriteFailure(errors.New("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = h.Snapshot().SuccessRate()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4000), h.TotalWrites())
	assert.Equal(t, int64(4000), h.FailedWrites())
}
