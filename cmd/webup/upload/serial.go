// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/toitlang/webup/cmd/webup/logging"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultSettleDelay = 2 * time.Second
)

type SerialOptions struct {
	BaudRate int
	// Settle is how long to wait after opening the port. Opening the port
	// toggles DTR, which resets most boards.
	Settle time.Duration
}

var errSerialTimeout = errors.New("serial read timeout")

// serialPort reports reads that return nothing as timeouts. go.bug.st/serial
// returns (0, nil) when the read timeout expires.
type serialPort struct {
	serial.Port
}

func (s serialPort) Read(buf []byte) (n int, err error) {
	n, err = s.Port.Read(buf)
	if err == nil && n == 0 {
		return 0, errSerialTimeout
	}
	return n, err
}

// OpenSerial opens the serial port and waits for the device to come out of
// reset.
func OpenSerial(ctx context.Context, port string, opts SerialOptions) (*Conn, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	dev, err := serial.Open(port, &serial.Mode{
		BaudRate: opts.BaudRate,
	})
	if os.IsNotExist(err) {
		return nil, &ConnectionError{Target: port, Err: fmt.Errorf("the port '%s' was not found", port)}
	}
	if err != nil {
		return nil, &ConnectionError{Target: port, Err: err}
	}

	log := logging.FromContext(ctx)
	if opts.Settle > 0 {
		log.WithField("settle", opts.Settle).Debug("waiting for the device to settle")
		select {
		case <-time.After(opts.Settle):
		case <-ctx.Done():
			dev.Close()
			return nil, &ConnectionError{Target: port, Err: ctx.Err()}
		}
	}
	// Drop whatever the device printed while booting.
	if err := dev.ResetInputBuffer(); err != nil {
		log.WithError(err).Debug("failed to reset input buffer")
	}

	return NewConn(serialPort{dev}, func(d time.Duration) error {
		if d <= 0 {
			return dev.SetReadTimeout(serial.NoTimeout)
		}
		return dev.SetReadTimeout(d)
	}, func(err error) bool {
		return errors.Is(err, errSerialTimeout)
	}), nil
}

// SerialTarget uploads over a single serial connection held for the whole run.
func SerialTarget(port string, opts SerialOptions) Target {
	return Target{
		Transport: "serial",
		Address:   port,
		Framing:   RawFraming{},
		Dial: func(ctx context.Context) (Transport, error) {
			conn, err := OpenSerial(ctx, port, opts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}
