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
	"testing"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/health"
	"github.com/AleutianAI/edgeworker-detector/services/generator/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(connector *mockConnector, h *health.PipelineHealth, sleeper *sleepRecorder) *ConnectionManager {
	return NewConnectionManager(ConnectionManagerConfig{
		Connector: connector,
		Health:    h,
		Sleep:     sleeper.Sleep,
		Logger:    discardLogger(),
	})
}

func TestConnect_FirstAttemptSucceeds(t *testing.T) {
	h := health.New(time.Now())
	h.SetLastError(errors.New("stale"))
	sleeper := &sleepRecorder{}
	connector := &mockConnector{}

	m := newTestManager(connector, h, sleeper)

	require.True(t, m.Connect(context.Background()))
	assert.Equal(t, 1, connector.calls)
	assert.Empty(t, sleeper.Delays())
	assert.Equal(t, health.StatusConnected, h.Status())
	assert.Empty(t, h.LastError())
	assert.NotNil(t, m.Current())
}

func TestConnect_SucceedsAfterFailures(t *testing.T) {
	h := health.New(time.Now())
	sleeper := &sleepRecorder{}
	connector := &mockConnector{failures: 3}

	m := newTestManager(connector, h, sleeper)

	require.True(t, m.Connect(context.Background()))
	assert.Equal(t, 4, connector.calls)
	assert.Equal(t, seconds(1, 2, 4), sleeper.Delays())
	assert.Equal(t, health.StatusConnected, h.Status())
	assert.Empty(t, h.LastError())
}

func TestConnect_ExhaustsAttempts(t *testing.T) {
	h := health.New(time.Now())
	sleeper := &sleepRecorder{}
	connector := &mockConnector{failures: 100}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	m := NewConnectionManager(ConnectionManagerConfig{
		Connector: connector,
		Health:    h,
		Metrics:   metrics,
		Sleep:     sleeper.Sleep,
		Logger:    discardLogger(),
	})

	assert.False(t, m.Connect(context.Background()))
	assert.Equal(t, 10, connector.calls)
	assert.Equal(t, seconds(1, 2, 4, 8, 16, 32, 60, 60, 60), sleeper.Delays())
	assert.Equal(t, health.StatusFailed, h.Status())
	assert.Contains(t, h.LastError(), "connect attempt 10/10")
	assert.Contains(t, h.LastError(), "connection refused")
	assert.Nil(t, m.Current())
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.ConnectAttemptsTotal.WithLabelValues(observability.OutcomeFailure)))
}

func TestConnect_ReplacesAndClosesPreviousConnection(t *testing.T) {
	h := health.New(time.Now())
	connector := &mockConnector{}
	m := newTestManager(connector, h, &sleepRecorder{})

	require.True(t, m.Connect(context.Background()))
	require.True(t, m.Connect(context.Background()))

	require.Len(t, connector.conns, 2)
	assert.True(t, connector.conns[0].isClosed())
	assert.False(t, connector.conns[1].isClosed())
	assert.Same(t, connector.conns[1], m.Current())
}

func TestConnect_FailureDropsPreviousConnection(t *testing.T) {
	h := health.New(time.Now())
	connector := &mockConnector{}
	m := newTestManager(connector, h, &sleepRecorder{})
	require.True(t, m.Connect(context.Background()))

	connector.failures = 1000
	assert.False(t, m.Connect(context.Background()))

	assert.True(t, connector.conns[0].isClosed())
	assert.Nil(t, m.Current())
	assert.ErrorIs(t, m.Ping(context.Background()), ErrNotConnected)
}

func TestConnect_CancelledDuringBackoff(t *testing.T) {
	h := health.New(time.Now())
	connector := &mockConnector{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newTestManager(connector, h, &sleepRecorder{})

	assert.False(t, m.Connect(ctx))
	assert.Equal(t, 1, connector.calls)
	assert.Equal(t, health.StatusDisconnected, h.Status(), "cancellation leaves status untouched")
}

func TestConnect_ErrorIsConnectionError(t *testing.T) {
	h := health.New(time.Now())
	connector := &mockConnector{failures: 100}
	m := NewConnectionManager(ConnectionManagerConfig{
		Connector: connector,
		Health:    h,
		Policy:    RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second},
		Sleep:     (&sleepRecorder{}).Sleep,
		Logger:    discardLogger(),
	})

	assert.False(t, m.Connect(context.Background()))
	assert.Equal(t, "connect attempt 1/1: dial tcp influxdb:8086: connection refused", h.LastError())

	var cerr *ConnectionError
	err := error(&ConnectionError{Attempt: 1, MaxAttempts: 1, Err: ErrNotConnected})
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPing(t *testing.T) {
	h := health.New(time.Now())
	connector := &mockConnector{}
	m := newTestManager(connector, h, &sleepRecorder{})

	assert.ErrorIs(t, m.Ping(context.Background()), ErrNotConnected)

	require.True(t, m.Connect(context.Background()))
	assert.NoError(t, m.Ping(context.Background()))

	connector.conns[0].pingErr = errors.New("unhealthy")
	assert.EqualError(t, m.Ping(context.Background()), "unhealthy")
}

func TestClose(t *testing.T) {
	connector := &mockConnector{}
	m := newTestManager(connector, health.New(time.Now()), &sleepRecorder{})
	require.True(t, m.Connect(context.Background()))

	m.Close()

	assert.True(t, connector.conns[0].isClosed())
	assert.Nil(t, m.Current())
}
