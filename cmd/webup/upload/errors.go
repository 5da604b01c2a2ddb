// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the device didn't answer within the read timeout.
	ErrTimeout = errors.New("timed out waiting for the device")
	// ErrLocalFileMissing marks a manifest entry that isn't on disk.
	ErrLocalFileMissing = errors.New("local file not found")
)

// ConnectionError is returned when the transport to the device can't be
// opened. It aborts a run.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to '%s': %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError is an unexpected reply at one of the handshake steps.
type ProtocolError struct {
	Step     string
	Expected string
	Received string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: expected %s, got '%s'", e.Step, e.Expected, e.Received)
}

func isConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
