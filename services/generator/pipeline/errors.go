// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when no live store connection exists.
var ErrNotConnected = errors.New("not connected to store")

// ConnectionError reports a failed connect attempt: the store was
// unreachable or its liveness check did not pass.
type ConnectionError struct {
	Attempt     int
	MaxAttempts int
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect attempt %d/%d: %v", e.Attempt, e.MaxAttempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports a failed write attempt for one batch.
type WriteError struct {
	Attempt     int
	MaxAttempts int
	Records     int
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write attempt %d/%d (%d records): %v", e.Attempt, e.MaxAttempts, e.Records, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
