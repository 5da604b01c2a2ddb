// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/toitlang/webup/cmd/webup/directory"
	"github.com/toitlang/webup/cmd/webup/upload"
)

// argOrConfig takes the first positional argument, or the configured value
// when there are no arguments. It returns the remaining arguments.
func argOrConfig(args []string, cfg *viper.Viper, key string, what string) (string, []string, error) {
	var rest []string
	if len(args) > 0 {
		if args[0] != "" {
			return args[0], args[1:], nil
		}
		rest = args[1:]
	}
	if v := cfg.GetString(key); v != "" {
		return v, rest, nil
	}
	return "", nil, fmt.Errorf("no %s given. Pass one as argument or store a default with 'webup config %s <value>'", what, key)
}

func webDirectory(args []string) string {
	if len(args) > 0 {
		return directory.GetWebDirectory(args[0])
	}
	return directory.GetWebDirectory("")
}

func addSerialFlags(flags *pflag.FlagSet) {
	flags.Int("baud", upload.DefaultBaudRate, "the baud rate of the serial port")
	flags.Duration("settle", upload.DefaultSettleDelay, "how long to wait for the device after opening the port")
}

func addTCPFlags(flags *pflag.FlagSet) {
	flags.Int("port", upload.DefaultTCPPort, "the port of the upload server")
	flags.Duration("connect-timeout", upload.DefaultConnectTimeout, "how long to wait for the connection and the welcome message")
}

func addTimeoutFlag(flags *pflag.FlagSet, timeout time.Duration) {
	flags.Duration("timeout", timeout, "how long to wait for each reply of the device")
}

func addManifestFlag(flags *pflag.FlagSet) {
	flags.StringP("manifest", "m", "", "YAML file listing the files to upload (default: the built-in web interface)")
}

// addTransferFlags registers the flags shared by every upload command.
// maxSize is the default for --max-size; 0 means no limit.
func addTransferFlags(flags *pflag.FlagSet, timeout time.Duration, maxSize int) {
	addTimeoutFlag(flags, timeout)
	flags.Int("max-size", maxSize, "refuse files larger than this many bytes (0 disables)")
	addManifestFlag(flags)
	flags.StringP("output", "o", "", "also print the report as json, yaml or short")
	flags.Bool("no-progress", false, "don't show a progress bar")
	flags.Bool("skip-list", false, "don't list the files on the device after uploading")
	flags.Duration("pause", upload.DefaultPause, "pause between files when connecting per file")
}

// serialOptions prefers the flags, then the stored baud rate.
func serialOptions(flags *pflag.FlagSet, cfg *viper.Viper) (upload.SerialOptions, error) {
	baud, err := flags.GetInt("baud")
	if err != nil {
		return upload.SerialOptions{}, err
	}
	if !flags.Changed("baud") && cfg.GetInt(BaudCfgKey) > 0 {
		baud = cfg.GetInt(BaudCfgKey)
	}
	settle, err := flags.GetDuration("settle")
	if err != nil {
		return upload.SerialOptions{}, err
	}
	return upload.SerialOptions{
		BaudRate: baud,
		Settle:   settle,
	}, nil
}

func serialTarget(flags *pflag.FlagSet, cfg *viper.Viper, port string) (upload.Target, error) {
	opts, err := serialOptions(flags, cfg)
	if err != nil {
		return upload.Target{}, err
	}
	return upload.SerialTarget(port, opts), nil
}

func tcpTarget(flags *pflag.FlagSet, host string) (upload.Target, error) {
	port, err := flags.GetInt("port")
	if err != nil {
		return upload.Target{}, err
	}
	connectTimeout, err := flags.GetDuration("connect-timeout")
	if err != nil {
		return upload.Target{}, err
	}
	return upload.TCPTarget(host, upload.TCPOptions{
		Port:           port,
		ConnectTimeout: connectTimeout,
		WelcomeWindow:  upload.DefaultWelcomeWindow,
	}), nil
}

func loadManifest(flags *pflag.FlagSet, cfg *viper.Viper) (upload.Manifest, error) {
	file, err := flags.GetString("manifest")
	if err != nil {
		return upload.Manifest{}, err
	}
	if file == "" {
		file = cfg.GetString(ManifestCfgKey)
	}
	if file == "" {
		return upload.DefaultManifest(), nil
	}
	return upload.LoadManifest(file)
}

func sessionOptions(flags *pflag.FlagSet, out io.Writer) (upload.SessionOptions, error) {
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return upload.SessionOptions{}, err
	}
	maxSize, err := flags.GetInt("max-size")
	if err != nil {
		return upload.SessionOptions{}, err
	}
	if maxSize < 0 {
		return upload.SessionOptions{}, fmt.Errorf("invalid max size: %d", maxSize)
	}
	progress, err := newProgress(flags, out)
	if err != nil {
		return upload.SessionOptions{}, err
	}
	return upload.SessionOptions{
		ReadTimeout: timeout,
		MaxFileSize: maxSize,
		Progress:    progress,
	}, nil
}

func runOptions(flags *pflag.FlagSet, out io.Writer) (upload.RunOptions, error) {
	session, err := sessionOptions(flags, out)
	if err != nil {
		return upload.RunOptions{}, err
	}
	pause, err := flags.GetDuration("pause")
	if err != nil {
		return upload.RunOptions{}, err
	}
	skipList, err := flags.GetBool("skip-list")
	if err != nil {
		return upload.RunOptions{}, err
	}
	return upload.RunOptions{
		Session:     session,
		Pause:       pause,
		SkipListing: skipList,
		Out:         out,
	}, nil
}
