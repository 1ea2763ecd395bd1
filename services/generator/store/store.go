// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the time-series store contract used by the write
// pipeline and its InfluxDB v2 implementation.
//
// # Description
//
// The pipeline depends only on Connector and Conn:
//
//	Connector.Connect(ctx)  -> Conn | error   open + liveness check
//	Conn.Ping(ctx)          -> error          liveness ("pass" or error)
//	Conn.Write(ctx, batch)  -> error          durable write of one batch
//	Conn.Close()                              release the client
//
// Store-specific wire formats never leave this package.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
)

// ErrUnhealthy is returned when the store answers a liveness check with
// anything other than "pass".
var ErrUnhealthy = errors.New("store health check did not pass")

// Connector opens store connections.
type Connector interface {
	// Connect opens a connection and verifies liveness before returning it.
	// On error no connection is left open.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an open store connection.
type Conn interface {
	Ping(ctx context.Context) error
	Write(ctx context.Context, records []synth.Record) error
	Close()
}

// Target describes where batches go; reported by the status surface.
type Target struct {
	URL    string
	Bucket string
}
