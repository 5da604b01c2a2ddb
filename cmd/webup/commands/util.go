// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/toitlang/webup/cmd/webup/upload"
	"golang.org/x/term"
	"gopkg.in/yaml.v2"
)

type encoder interface {
	Encode(interface{}) error
}

// parseOutputFlag returns nil if the report should only be printed as text.
func parseOutputFlag(cmd *cobra.Command, w io.Writer) (encoder, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	return newEncoder(output, w)
}

func newEncoder(output string, w io.Writer) (encoder, error) {
	switch strings.ToLower(output) {
	case "":
		return nil, nil
	case "json":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e, nil
	case "yaml":
		return yaml.NewEncoder(w), nil
	case "short":
		return newShortEncoder(w), nil
	default:
		return nil, fmt.Errorf("--output flag '%s' was not recognized. Must be either json, yaml or short", output)
	}
}

type shortEncoder struct {
	w io.Writer
}

func newShortEncoder(w io.Writer) *shortEncoder {
	return &shortEncoder{
		w: w,
	}
}

type Lines interface {
	Lines() []string
}

func (s *shortEncoder) Encode(v interface{}) error {
	ls, ok := v.(Lines)
	if !ok {
		return fmt.Errorf("value type %T was not compatible with the Lines interface", v)
	}
	for _, l := range ls.Lines() {
		if _, err := fmt.Fprintln(s.w, l); err != nil {
			return err
		}
	}
	return nil
}

// consoleFor returns where human readable progress goes. Structured output
// owns stdout, so the console moves to stderr.
func consoleFor(e encoder) io.Writer {
	if e != nil {
		return os.Stderr
	}
	return os.Stdout
}

const progressTemplate pb.ProgressBarTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }}`

// progressBar shows the payload of the file being uploaded.
type progressBar struct {
	w   io.Writer
	bar *pb.ProgressBar
}

func (p *progressBar) Start(remotePath string, total int) {
	p.bar = pb.New(total).
		SetTemplate(progressTemplate).
		SetWriter(p.w).
		Set("prefix", remotePath)
	p.bar.Start()
}

func (p *progressBar) Advance(n int) {
	if p.bar != nil {
		p.bar.Add(n)
	}
}

func (p *progressBar) Finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newProgress returns nil unless w is a terminal and the bar wasn't disabled.
func newProgress(flags *pflag.FlagSet, w io.Writer) (upload.Progress, error) {
	disabled, err := flags.GetBool("no-progress")
	if err != nil {
		return nil, err
	}
	f, ok := w.(*os.File)
	if disabled || !ok || !isTerminal(f) {
		return nil, nil
	}
	return &progressBar{w: w}, nil
}
