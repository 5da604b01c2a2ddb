// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/toitlang/webup/cmd/webup/logging"
)

const (
	DefaultTCPPort        = 47293
	DefaultConnectTimeout = 10 * time.Second
	// DefaultTCPReadTimeout bounds every wait for a reply over the network.
	DefaultTCPReadTimeout = 10 * time.Second
	// The controller greets with two lines. Everything that arrives within
	// this window after the first one is part of the greeting.
	DefaultWelcomeWindow = 200 * time.Millisecond
)

type TCPOptions struct {
	Port           int
	ConnectTimeout time.Duration
	WelcomeWindow  time.Duration
}

// TCPAddress joins host and port, unless host already names a port.
func TCPAddress(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port == 0 {
		port = DefaultTCPPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// OpenTCP connects to the controller and consumes its welcome message.
func OpenTCP(ctx context.Context, host string, opts TCPOptions) (*Conn, error) {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	address := TCPAddress(host, opts.Port)

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Target: address, Err: err}
	}

	conn := NewNetConn(nc)
	if err := readWelcome(ctx, conn, opts.ConnectTimeout, opts.WelcomeWindow); err != nil {
		conn.Close()
		return nil, &ConnectionError{Target: address, Err: err}
	}
	return conn, nil
}

// readWelcome logs the greeting without validating it.
func readWelcome(ctx context.Context, conn *Conn, timeout time.Duration, window time.Duration) error {
	welcome, err := conn.ReadLine(timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("no welcome message: %w", err)
		}
		return err
	}

	log := logging.FromContext(ctx)
	log.WithField("welcome", welcome).Debug("connected")
	if window <= 0 {
		return nil
	}
	rest, err := conn.Drain(window)
	if err != nil {
		return err
	}
	for _, line := range rest {
		log.WithField("welcome", line).Debug("connected")
	}
	return nil
}

// TCPTarget uploads every file over a fresh connection. The controller
// keeps upload state per client.
func TCPTarget(host string, opts TCPOptions) Target {
	return Target{
		Transport: "tcp",
		Address:   TCPAddress(host, opts.Port),
		Framing:   ChunkedFraming{ChunkSize: DefaultChunkSize},
		PerFile:   true,
		Dial: func(ctx context.Context) (Transport, error) {
			conn, err := OpenTCP(ctx, host, opts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}
