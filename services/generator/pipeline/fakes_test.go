// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
)

// --- Mock store ---

type mockConn struct {
	mu        sync.Mutex
	writeErrs []error // consumed in order, nil once exhausted
	pingErr   error
	writes    int
	closed    bool
}

func (c *mockConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *mockConn) Write(ctx context.Context, records []synth.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if len(c.writeErrs) == 0 {
		return nil
	}
	err := c.writeErrs[0]
	c.writeErrs = c.writeErrs[1:]
	return err
}

func (c *mockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type mockConnector struct {
	mu       sync.Mutex
	failures int // first N Connect calls fail
	calls    int
	conns    []*mockConn
}

func (m *mockConnector) Connect(ctx context.Context) (store.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, errors.New("dial tcp influxdb:8086: connection refused")
	}
	c := &mockConn{}
	m.conns = append(m.conns, c)
	return c, nil
}

// --- Sleep recorder ---

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// staticSource always returns conn, which may be nil.
type staticSource struct {
	conn store.Conn
}

func (s staticSource) Current() store.Conn { return s.conn }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seconds(ns ...int) []time.Duration {
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n) * time.Second
	}
	return out
}
