// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package logging carries diagnostic fields through a context and turns them
// into logrus entries.
package logging

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

type contextKey int

const (
	runKey contextKey = iota
	transportKey
	targetKey
	pathKey
)

// Setup configures the package-level logrus logger used by FromContext.
func Setup(w io.Writer, verbose bool) {
	logrus.SetOutput(w)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !verbose,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

func FromRun(ctx context.Context, run string) context.Context {
	return context.WithValue(ctx, runKey, run)
}

func FromTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

func FromTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, targetKey, target)
}

func FromPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey, path)
}

func RunFromContext(ctx context.Context) (string, bool) {
	run, ok := ctx.Value(runKey).(string)
	return run, ok
}

func TransportFromContext(ctx context.Context) (string, bool) {
	transport, ok := ctx.Value(transportKey).(string)
	return transport, ok
}

func TargetFromContext(ctx context.Context) (string, bool) {
	target, ok := ctx.Value(targetKey).(string)
	return target, ok
}

func PathFromContext(ctx context.Context) (string, bool) {
	path, ok := ctx.Value(pathKey).(string)
	return path, ok
}

// FromContext returns a logrus entry with every field stored in ctx.
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())

	if run, ok := RunFromContext(ctx); ok {
		entry = entry.WithField("run", run)
	}

	if transport, ok := TransportFromContext(ctx); ok {
		entry = entry.WithField("transport", transport)
	}

	if target, ok := TargetFromContext(ctx); ok {
		entry = entry.WithField("target", target)
	}

	if path, ok := PathFromContext(ctx); ok {
		entry = entry.WithField("path", path)
	}

	return entry
}
