// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Transport is a line oriented byte stream to the device.
type Transport interface {
	// Send writes b in a single write.
	Send(b []byte) error
	// ReadLine returns the next line without its terminator and surrounding
	// white space. A timeout of zero waits forever.
	ReadLine(timeout time.Duration) (string, error)
	// ReadBlock does a single read of at most max bytes.
	ReadBlock(max int, timeout time.Duration) (string, error)
	// Drain reads lines until nothing arrives within window.
	Drain(window time.Duration) ([]string, error)
	Close() error
}

// Conn implements Transport on top of any read-write-closer that supports
// read timeouts.
type Conn struct {
	rw         io.ReadWriteCloser
	reader     *bufio.Reader
	setTimeout func(time.Duration) error
	isTimeout  func(error) bool
	// partial holds the start of a line whose read timed out.
	partial []byte
}

// NewConn wraps rw. setTimeout is called before every read; isTimeout
// recognizes the read error rw returns when that timeout expires.
func NewConn(rw io.ReadWriteCloser, setTimeout func(time.Duration) error, isTimeout func(error) bool) *Conn {
	return &Conn{
		rw:         rw,
		reader:     bufio.NewReader(rw),
		setTimeout: setTimeout,
		isTimeout:  isTimeout,
	}
}

// NewNetConn wraps a net.Conn, using read deadlines for timeouts.
func NewNetConn(c net.Conn) *Conn {
	return NewConn(c, func(d time.Duration) error {
		if d <= 0 {
			return c.SetReadDeadline(time.Time{})
		}
		return c.SetReadDeadline(time.Now().Add(d))
	}, isTimeoutError)
}

func (c *Conn) Send(b []byte) error {
	n, err := c.rw.Write(b)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(b), io.ErrShortWrite)
	}
	return nil
}

// arm sets the timeout for the next read. A stream closed by the peer still
// yields its buffered data and then EOF, so that isn't an error here.
func (c *Conn) arm(timeout time.Duration) error {
	err := c.setTimeout(timeout)
	if err == nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("failed to set read timeout: %w", err)
}

// takePartial returns s preceded by the pending partial line.
func (c *Conn) takePartial(s string) string {
	if len(c.partial) == 0 {
		return s
	}
	s = string(c.partial) + s
	c.partial = nil
	return s
}

func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	if err := c.arm(timeout); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if c.isTimeout(err) {
			c.partial = append(c.partial, line...)
			return "", ErrTimeout
		}
		line = c.takePartial(line)
		// The device may close the stream right after its last line.
		if err == io.EOF && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("read failed: %w", err)
	}
	return strings.TrimSpace(c.takePartial(line)), nil
}

func (c *Conn) ReadBlock(max int, timeout time.Duration) (string, error) {
	if n := len(c.partial); n > 0 {
		if n > max {
			n = max
		}
		block := string(c.partial[:n])
		c.partial = c.partial[n:]
		return block, nil
	}
	if err := c.arm(timeout); err != nil {
		return "", err
	}
	buf := make([]byte, max)
	n, err := c.reader.Read(buf)
	if n > 0 {
		return string(buf[:n]), nil
	}
	if err != nil && c.isTimeout(err) {
		return "", ErrTimeout
	}
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return "", nil
}

func (c *Conn) Drain(window time.Duration) ([]string, error) {
	var lines []string
	for {
		line, err := c.ReadLine(window)
		if errors.Is(err, ErrTimeout) || errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

func (c *Conn) Close() error {
	return c.rw.Close()
}

func isTimeoutError(err error) bool {
	var e net.Error
	return errors.As(err, &e) && e.Timeout()
}
