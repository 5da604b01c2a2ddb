// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/toitlang/webup/cmd/webup/logging"
)

const (
	// DefaultPause separates uploads on per-file connections.
	DefaultPause = 500 * time.Millisecond
	// DefaultListWindow is how long the serial listing may stay silent
	// before it's considered complete.
	DefaultListWindow = 500 * time.Millisecond
)

// Target describes how to reach the device.
type Target struct {
	Transport string
	Address   string
	Framing   Framing
	Dial      func(ctx context.Context) (Transport, error)
	// PerFile opens a new connection for every upload and for the listing.
	PerFile bool
}

type RunOptions struct {
	Session SessionOptions
	// Pause between uploads on per-file connections.
	Pause time.Duration
	// ListWindow is passed to the framing when reading the listing.
	ListWindow  time.Duration
	SkipListing bool
	// Out receives the console report. Defaults to io.Discard.
	Out io.Writer
}

// Runner uploads the files of a manifest in order.
type Runner struct {
	target   Target
	manifest Manifest
	dir      string
	options  RunOptions

	// dials counts the connections opened since the last reset.
	dials int
}

func NewRunner(target Target, manifest Manifest, dir string, opts RunOptions) *Runner {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.ListWindow == 0 {
		opts.ListWindow = DefaultListWindow
	}
	return &Runner{
		target:   target,
		manifest: manifest,
		dir:      dir,
		options:  opts,
	}
}

// Report summarizes a run.
type Report struct {
	RunID     string         `json:"runId" yaml:"runId"`
	Transport string         `json:"transport" yaml:"transport"`
	Target    string         `json:"target" yaml:"target"`
	Results   []UploadResult `json:"results" yaml:"results"`
	Skipped   []string       `json:"skipped" yaml:"skipped"`
	Listing   []string       `json:"listing" yaml:"listing"`
	Uploaded  int            `json:"uploaded" yaml:"uploaded"`
	Total     int            `json:"total" yaml:"total"`
}

func (r *Report) Summary() string {
	return fmt.Sprintf("Uploaded %d/%d files", r.Uploaded, r.Total)
}

// Lines is the one-line-per-file form of the report.
func (r *Report) Lines() []string {
	var res []string
	for _, result := range r.Results {
		if result.Success {
			res = append(res, fmt.Sprintf("ok %s %d", result.RemotePath, result.BytesSent))
		} else {
			res = append(res, fmt.Sprintf("failed %s", result.RemotePath))
		}
	}
	for _, skipped := range r.Skipped {
		res = append(res, fmt.Sprintf("missing %s", skipped))
	}
	return res
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	warnMark = color.New(color.FgYellow).Sprint("⚠")
)

func (r *Runner) context(ctx context.Context, runID string) context.Context {
	ctx = logging.FromRun(ctx, runID)
	ctx = logging.FromTransport(ctx, r.target.Transport)
	return logging.FromTarget(ctx, r.target.Address)
}

// Run uploads every manifest entry once and then lists the files on the
// device. Only a failure to open the transport is returned as an error;
// failed files are part of the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		Transport: r.target.Transport,
		Target:    r.target.Address,
		Total:     len(r.manifest.Files),
	}
	ctx = r.context(ctx, report.RunID)
	out := r.options.Out
	r.dials = 0

	shared, err := r.open(ctx)
	if err != nil {
		return report, err
	}
	if shared != nil {
		defer shared.Close()
	}
	fmt.Fprintf(out, "Uploading files from %s/\n\n", r.dir)

	results, skipped, err := r.upload(ctx, shared, r.manifest.Files)
	report.Results = results
	report.Skipped = skipped
	for _, res := range results {
		if res.Success {
			report.Uploaded++
		}
	}
	if err != nil {
		return report, err
	}

	fmt.Fprintf(out, "\n%s\n", report.Summary())

	if r.options.SkipListing {
		return report, nil
	}
	// The device holds a single client; give it time to release the last one.
	if shared == nil && len(results) > 0 {
		if err := r.pause(ctx); err != nil {
			return report, err
		}
	}
	listing, err := r.list(ctx, shared)
	if err != nil {
		// Without a single successful connection the device was never reached.
		if r.dials == 0 && isConnectionError(err) {
			return report, err
		}
		fmt.Fprintf(out, "\nError listing files: %v\n", err)
		return report, nil
	}
	report.Listing = listing
	fmt.Fprintln(out, "\nFiles on device:")
	for _, line := range listing {
		fmt.Fprintln(out, line)
	}
	return report, nil
}

// Upload sends the given entries without listing the device afterwards.
func (r *Runner) Upload(ctx context.Context, entries []Entry) ([]UploadResult, error) {
	ctx = r.context(ctx, uuid.New().String())
	shared, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	if shared != nil {
		defer shared.Close()
	}
	results, _, err := r.upload(ctx, shared, entries)
	return results, err
}

// List asks the device for the files in its flash storage.
func (r *Runner) List(ctx context.Context) ([]string, error) {
	ctx = r.context(ctx, uuid.New().String())
	shared, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	if shared != nil {
		defer shared.Close()
	}
	return r.list(ctx, shared)
}

// open returns the connection held for the whole run, or nil when the
// target connects per file.
func (r *Runner) open(ctx context.Context) (Transport, error) {
	out := r.options.Out
	if r.target.PerFile {
		fmt.Fprintf(out, "Connecting to %s\n", r.target.Address)
		return nil, nil
	}
	t, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Connected to %s\n", r.target.Address)
	return t, nil
}

func (r *Runner) dial(ctx context.Context) (Transport, error) {
	t, err := r.target.Dial(ctx)
	if err != nil {
		return nil, err
	}
	r.dials++
	return t, nil
}

// pause waits between connections to a per-file target.
func (r *Runner) pause(ctx context.Context) error {
	if r.options.Pause <= 0 {
		return nil
	}
	select {
	case <-time.After(r.options.Pause):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) upload(ctx context.Context, shared Transport, entries []Entry) ([]UploadResult, []string, error) {
	out := r.options.Out
	var results []UploadResult
	var skipped []string
	attempted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, skipped, err
		}

		localPath := filepath.Join(r.dir, filepath.FromSlash(entry.LocalName))
		data, err := os.ReadFile(localPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(out, "%s Warning: %s not found\n", warnMark, localPath)
				logging.FromContext(ctx).WithError(ErrLocalFileMissing).WithField("file", localPath).Debug("skipping")
				skipped = append(skipped, localPath)
				continue
			}
			result := UploadResult{RemotePath: entry.RemotePath, Error: err.Error(), err: err}
			fmt.Fprintf(out, "%s Failed to upload %s: %v\n", failMark, entry.RemotePath, err)
			results = append(results, result)
			continue
		}

		if shared == nil && attempted > 0 {
			if err := r.pause(ctx); err != nil {
				return results, skipped, err
			}
		}
		attempted++

		result, err := r.uploadOne(ctx, shared, entry, data)
		if err != nil {
			// Not being able to reach the device at all aborts the run.
			if attempted == 1 && isConnectionError(err) {
				return results, skipped, err
			}
			result = UploadResult{RemotePath: entry.RemotePath, Error: err.Error(), err: err}
		}
		if result.Success {
			fmt.Fprintf(out, "%s Uploaded %s (%d bytes)\n", okMark, result.RemotePath, result.BytesSent)
		} else {
			fmt.Fprintf(out, "%s Failed to upload %s: %s\n", failMark, result.RemotePath, result.Error)
		}
		results = append(results, result)
	}
	return results, skipped, nil
}

func (r *Runner) uploadOne(ctx context.Context, shared Transport, entry Entry, data []byte) (UploadResult, error) {
	t := shared
	if t == nil {
		var err error
		if t, err = r.dial(ctx); err != nil {
			return UploadResult{}, err
		}
		defer t.Close()
	}
	session := NewSession(t, r.target.Framing, r.options.Session)
	return session.Upload(ctx, entry.RemotePath, data), nil
}

func (r *Runner) list(ctx context.Context, shared Transport) ([]string, error) {
	t := shared
	timeout := r.options.ListWindow
	if t == nil {
		var err error
		if t, err = r.dial(ctx); err != nil {
			return nil, err
		}
		defer t.Close()
		timeout = r.options.Session.ReadTimeout
		if timeout == 0 {
			timeout = DefaultReadTimeout
		}
	}

	logging.FromContext(ctx).Debug("listing files")
	if err := t.Send([]byte(r.target.Framing.ListCommand())); err != nil {
		return nil, fmt.Errorf("failed to send list command: %w", err)
	}
	return r.target.Framing.ReadListing(t, timeout)
}
