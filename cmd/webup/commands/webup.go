// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/toitlang/webup/cmd/webup/logging"
)

type ctxKey string

const (
	ctxKeyInfo ctxKey = "info"
)

type Info struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Date    string `mapstructure:"date" yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	info, _ := ctx.Value(ctxKeyInfo).(Info)
	return info
}

func WebupCmd(info Info, isReleaseBuild bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webup",
		Short: "Upload the web interface to your controller",
		Long: "webup copies the files of a web interface into the flash storage of an embedded\n" +
			"controller, either over its serial port or over its TCP upload server.\n\n" +
			"Files are uploaded one at a time in manifest order. Missing local files are\n" +
			"skipped, failed uploads are reported, and the device is asked for its file\n" +
			"listing at the end.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			logging.Setup(os.Stderr, verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "log every protocol line to stderr")

	cmd.AddCommand(
		SerialCmd(),
		TCPCmd(),
		ListCmd(),
		WatchCmd(),
		PortsCmd(),
		ConfigCmd(),
		VersionCmd(info, isReleaseBuild),
	)
	return cmd
}
