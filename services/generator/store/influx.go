// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
)

// =============================================================================
// Configuration
// =============================================================================

// InfluxConfig holds InfluxDB v2 connection settings.
//
// # Fields
//
//   - URL: Server base URL, e.g. "http://influxdb:8086".
//   - Token: API token with write access to Bucket.
//   - Org: Organization name.
//   - Bucket: Destination bucket.
//   - Timeout: Per-request HTTP timeout. Zero keeps the client default.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// =============================================================================
// Connector
// =============================================================================

// InfluxConnector opens InfluxDB v2 connections.
type InfluxConnector struct {
	cfg InfluxConfig
}

// NewInfluxConnector creates a connector for cfg. No I/O happens until
// Connect is called.
func NewInfluxConnector(cfg InfluxConfig) *InfluxConnector {
	return &InfluxConnector{cfg: cfg}
}

// Target returns the URL and bucket batches are written to.
func (c *InfluxConnector) Target() Target {
	return Target{URL: c.cfg.URL, Bucket: c.cfg.Bucket}
}

// Connect creates a client, runs a health check and returns the
// connection if the server reports "pass".
//
// # Outputs
//
//   - Conn: A live connection writing to the configured org/bucket.
//   - error: Transport errors, or ErrUnhealthy wrapped with the server's
//     status and message.
func (c *InfluxConnector) Connect(ctx context.Context) (Conn, error) {
	opts := influxdb2.DefaultOptions().SetPrecision(time.Nanosecond)
	if c.cfg.Timeout > 0 {
		secs := uint(c.cfg.Timeout / time.Second)
		if secs == 0 {
			secs = 1
		}
		opts.SetHTTPRequestTimeout(secs)
	}

	client := influxdb2.NewClientWithOptions(c.cfg.URL, c.cfg.Token, opts)
	conn := &influxConn{
		client:   client,
		writeAPI: client.WriteAPIBlocking(c.cfg.Org, c.cfg.Bucket),
	}

	if err := conn.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return conn, nil
}

// =============================================================================
// Connection
// =============================================================================

// influxConn is an open InfluxDB client bound to one org/bucket.
type influxConn struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Ping runs the server health check.
func (c *influxConn) Ping(ctx context.Context) error {
	h, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if h == nil {
		return fmt.Errorf("%w: empty response", ErrUnhealthy)
	}
	if h.Status != domain.HealthCheckStatusPass {
		msg := ""
		if h.Message != nil {
			msg = *h.Message
		}
		return fmt.Errorf("%w: status %q %s", ErrUnhealthy, h.Status, msg)
	}
	return nil
}

// Write converts records to points and writes them synchronously.
func (c *influxConn) Write(ctx context.Context, records []synth.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.writeAPI.WritePoint(ctx, ToPoints(records)...); err != nil {
		return fmt.Errorf("influxdb write %d points: %w", len(records), err)
	}
	return nil
}

// Close releases the client's idle connections.
func (c *influxConn) Close() {
	c.client.Close()
}

// =============================================================================
// Point Conversion
// =============================================================================

// ToPoints converts records to InfluxDB points, one per record.
func ToPoints(records []synth.Record) []*write.Point {
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		points = append(points, influxdb2.NewPoint(synth.Measurement, r.Tags(), r.Fields(), r.Timestamp))
	}
	return points
}

// LineProtocol renders records as InfluxDB line protocol with nanosecond
// timestamps, one line per record.
func LineProtocol(records []synth.Record) string {
	var b strings.Builder
	for _, p := range ToPoints(records) {
		line := write.PointToLineProtocol(p, time.Nanosecond)
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
