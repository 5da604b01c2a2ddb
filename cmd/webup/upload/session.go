// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/multistep"
	"github.com/toitlang/webup/cmd/webup/logging"
)

const (
	DefaultReadTimeout = 2 * time.Second
	// The controller refuses uploads larger than this.
	DefaultMaxFileSize = 1024 * 1024
)

// Progress is told about payload units as they're written.
type Progress interface {
	Start(remotePath string, total int)
	Advance(n int)
	Finish()
}

type noProgress struct{}

func (noProgress) Start(string, int) {}
func (noProgress) Advance(int)       {}
func (noProgress) Finish()           {}

type SessionOptions struct {
	// ReadTimeout bounds every wait for a reply.
	ReadTimeout time.Duration
	// MaxFileSize rejects larger files before anything is sent. 0 disables
	// the check.
	MaxFileSize int
	Progress    Progress
}

func (o SessionOptions) progress() Progress {
	if o.Progress == nil {
		return noProgress{}
	}
	return o.Progress
}

// UploadResult is the outcome of uploading one file.
type UploadResult struct {
	RemotePath string `json:"remotePath" yaml:"remotePath"`
	Success    bool   `json:"success" yaml:"success"`
	BytesSent  int    `json:"bytesSent" yaml:"bytesSent"`
	Chunks     int    `json:"chunks" yaml:"chunks"`
	Reply      string `json:"reply,omitempty" yaml:"reply,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err returns the error that failed the upload, if any.
func (r UploadResult) Err() error {
	return r.err
}

// Session drives the command/response exchange for single files over an
// open transport.
type Session struct {
	transport Transport
	framing   Framing
	options   SessionOptions
}

func NewSession(t Transport, f Framing, opts SessionOptions) *Session {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return &Session{
		transport: t,
		framing:   f,
		options:   opts,
	}
}

// Upload sends one file. It never retries; any unexpected reply fails the
// upload.
func (s *Session) Upload(ctx context.Context, remotePath string, data []byte) UploadResult {
	ctx = logging.FromPath(ctx, remotePath)

	state := new(multistep.BasicStateBag)
	state.Put("ctx", ctx)
	state.Put("transport", s.transport)
	state.Put("framing", s.framing)
	state.Put("options", s.options)
	state.Put("remotePath", remotePath)
	state.Put("data", data)

	steps := []multistep.Step{
		&stepCheckSize{maxSize: s.options.MaxFileSize},
		&stepSendCommand{},
		&stepAwaitReady{timeout: s.options.ReadTimeout},
		&stepSendData{},
		&stepAwaitResult{timeout: s.options.ReadTimeout},
	}

	runner := &multistep.BasicRunner{Steps: steps}
	logging.FromContext(ctx).WithField("size", len(data)).Debug("starting upload")
	runner.Run(state)

	result := UploadResult{RemotePath: remotePath}
	if outcome, ok := state.GetOk("outcome"); ok {
		result.Chunks = outcome.(PayloadOutcome).Chunks
	}
	if reply, ok := state.GetOk("reply"); ok {
		result.Reply = reply.(string)
	}
	if err, ok := state.GetOk("error"); ok {
		result.err = err.(error)
		result.Error = result.err.Error()
		logging.FromContext(ctx).WithError(result.err).Debug("upload failed")
		return result
	}
	result.Success = true
	result.BytesSent = len(data)
	logging.FromContext(ctx).Debug("upload done")
	return result
}

func halt(state multistep.StateBag, err error) multistep.StepAction {
	state.Put("error", err)
	return multistep.ActionHalt
}

type stepCheckSize struct {
	maxSize int
}

func (s *stepCheckSize) Run(state multistep.StateBag) multistep.StepAction {
	data := state.Get("data").([]byte)
	if s.maxSize > 0 && len(data) > s.maxSize {
		return halt(state, &ProtocolError{
			Step:     "check size",
			Expected: fmt.Sprintf("at most %d bytes", s.maxSize),
			Received: fmt.Sprintf("%d bytes", len(data)),
		})
	}
	return multistep.ActionContinue
}

func (s *stepCheckSize) Cleanup(state multistep.StateBag) {
}

type stepSendCommand struct{}

func (s *stepSendCommand) Run(state multistep.StateBag) multistep.StepAction {
	ctx := state.Get("ctx").(context.Context)
	t := state.Get("transport").(Transport)
	framing := state.Get("framing").(Framing)
	remotePath := state.Get("remotePath").(string)
	data := state.Get("data").([]byte)

	cmd := framing.UploadCommand(remotePath, len(data))
	logging.FromContext(ctx).WithField("command", strings.TrimSpace(cmd)).Debug("sending command")
	if err := t.Send([]byte(cmd)); err != nil {
		return halt(state, fmt.Errorf("failed to send upload command: %w", err))
	}
	return multistep.ActionContinue
}

func (s *stepSendCommand) Cleanup(state multistep.StateBag) {
}

type stepAwaitReady struct {
	timeout time.Duration
}

func (s *stepAwaitReady) Run(state multistep.StateBag) multistep.StepAction {
	ctx := state.Get("ctx").(context.Context)
	t := state.Get("transport").(Transport)
	framing := state.Get("framing").(Framing)

	line, err := t.ReadLine(s.timeout)
	if err != nil {
		return halt(state, fmt.Errorf("no ready signal: %w", err))
	}
	logging.FromContext(ctx).WithField("reply", line).Debug("got reply")
	if !framing.Ready(line) {
		return halt(state, &ProtocolError{Step: "await ready", Expected: "READY", Received: line})
	}
	return multistep.ActionContinue
}

func (s *stepAwaitReady) Cleanup(state multistep.StateBag) {
}

type stepSendData struct{}

func (s *stepSendData) Run(state multistep.StateBag) multistep.StepAction {
	ctx := state.Get("ctx").(context.Context)
	t := state.Get("transport").(Transport)
	framing := state.Get("framing").(Framing)
	opts := state.Get("options").(SessionOptions)
	remotePath := state.Get("remotePath").(string)
	data := state.Get("data").([]byte)

	progress := opts.progress()
	progress.Start(remotePath, framing.WireSize(len(data)))
	outcome, err := framing.SendPayload(ctx, t, data, opts)
	progress.Finish()
	state.Put("outcome", outcome)
	if err != nil {
		return halt(state, err)
	}
	if outcome.Confirmed {
		state.Put("reply", outcome.Reply)
	}
	return multistep.ActionContinue
}

func (s *stepSendData) Cleanup(state multistep.StateBag) {
}

type stepAwaitResult struct {
	timeout time.Duration
}

func (s *stepAwaitResult) Run(state multistep.StateBag) multistep.StepAction {
	if state.Get("outcome").(PayloadOutcome).Confirmed {
		return multistep.ActionContinue
	}
	ctx := state.Get("ctx").(context.Context)
	t := state.Get("transport").(Transport)

	line, err := t.ReadLine(s.timeout)
	if err != nil {
		return halt(state, fmt.Errorf("no upload result: %w", err))
	}
	logging.FromContext(ctx).WithField("reply", line).Debug("got reply")
	state.Put("reply", line)
	if !strings.HasPrefix(line, "OK") {
		return halt(state, &ProtocolError{Step: "await result", Expected: "OK", Received: line})
	}
	return multistep.ActionContinue
}

func (s *stepAwaitResult) Cleanup(state multistep.StateBag) {
}
