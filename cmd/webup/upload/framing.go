// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/toitlang/webup/cmd/webup/logging"
)

const (
	DefaultChunkSize = 1024
	// The controller answers 'list' with a single response.
	listingBlockSize = 4096
)

// Framing is the part of the upload exchange that differs between
// transports.
type Framing interface {
	UploadCommand(remotePath string, size int) string
	// Ready reports whether line is the device's ready signal.
	Ready(line string) bool
	// WireSize is the number of payload units written for size raw bytes.
	WireSize(size int) int
	// SendPayload transmits data. When the device already confirmed the
	// upload while the payload was sent, the outcome is Confirmed.
	SendPayload(ctx context.Context, t Transport, data []byte, opts SessionOptions) (PayloadOutcome, error)
	ListCommand() string
	ReadListing(t Transport, timeout time.Duration) ([]string, error)
}

type PayloadOutcome struct {
	Chunks    int
	Confirmed bool
	Reply     string
}

// RawFraming sends the file as one binary write, as the serial firmware
// expects.
type RawFraming struct{}

func (RawFraming) UploadCommand(remotePath string, size int) string {
	return fmt.Sprintf("UPLOAD %s %d\n", remotePath, size)
}

func (RawFraming) Ready(line string) bool {
	return line == "READY"
}

func (RawFraming) WireSize(size int) int {
	return size
}

func (RawFraming) SendPayload(ctx context.Context, t Transport, data []byte, opts SessionOptions) (PayloadOutcome, error) {
	if err := t.Send(data); err != nil {
		return PayloadOutcome{}, err
	}
	opts.progress().Advance(len(data))
	return PayloadOutcome{Chunks: 1}, nil
}

func (RawFraming) ListCommand() string {
	return "LIST\n"
}

func (RawFraming) ReadListing(t Transport, window time.Duration) ([]string, error) {
	return t.Drain(window)
}

// ChunkedFraming base64 encodes the file and sends it as 'data' lines, waiting
// for an acknowledgment after each one.
type ChunkedFraming struct {
	ChunkSize int
}

func (f ChunkedFraming) chunkSize() int {
	if f.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return f.ChunkSize
}

func (ChunkedFraming) UploadCommand(remotePath string, size int) string {
	return fmt.Sprintf("upload %s %d\n", remotePath, size)
}

func (ChunkedFraming) Ready(line string) bool {
	return strings.HasPrefix(line, "READY")
}

func (ChunkedFraming) WireSize(size int) int {
	return base64.StdEncoding.EncodedLen(size)
}

// Chunks splits the base64 encoding of data into lines of at most ChunkSize
// characters.
func (f ChunkedFraming) Chunks(data []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(data)
	size := f.chunkSize()
	chunks := make([]string, 0, (len(encoded)+size-1)/size)
	for i := 0; i < len(encoded); i += size {
		end := i + size
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, encoded[i:end])
	}
	return chunks
}

func (f ChunkedFraming) SendPayload(ctx context.Context, t Transport, data []byte, opts SessionOptions) (PayloadOutcome, error) {
	log := logging.FromContext(ctx)
	chunks := f.Chunks(data)
	var outcome PayloadOutcome
	for i, chunk := range chunks {
		if err := t.Send([]byte("data " + chunk + "\n")); err != nil {
			return outcome, err
		}
		outcome.Chunks++
		opts.progress().Advance(len(chunk))

		ack, err := t.ReadLine(opts.ReadTimeout)
		if err != nil {
			return outcome, fmt.Errorf("no acknowledgment for chunk %d: %w", i+1, err)
		}
		log.WithField("chunk", i+1).WithField("ack", ack).Debug("chunk acknowledged")

		switch {
		case strings.HasPrefix(ack, "ERROR"):
			return outcome, &ProtocolError{Step: "send chunk", Expected: "RECEIVED or OK", Received: ack}
		case strings.HasPrefix(ack, "OK"):
			// The device may confirm before the last chunk. It's taken as
			// final either way.
			if remaining := len(chunks) - i - 1; remaining > 0 {
				log.WithField("remaining", remaining).Debug("device confirmed upload before the last chunk")
			}
			outcome.Confirmed = true
			outcome.Reply = ack
			return outcome, nil
		case strings.HasPrefix(ack, "RECEIVED"):
		default:
			log.WithField("ack", ack).Warn("unexpected response")
		}
	}
	return outcome, nil
}

func (ChunkedFraming) ListCommand() string {
	return "list\n"
}

func (ChunkedFraming) ReadListing(t Transport, timeout time.Duration) ([]string, error) {
	block, err := t.ReadBlock(listingBlockSize, timeout)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			res = append(res, line)
		}
	}
	return res, nil
}
