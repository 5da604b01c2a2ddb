// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toitlang/webup/cmd/webup/directory"
	"github.com/toitlang/webup/cmd/webup/logging"
	"github.com/toitlang/webup/cmd/webup/upload"
)

func SerialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial [port] [web_directory]",
		Short: "Upload the web interface over a serial port",
		Long: "Upload the web interface over a serial port.\n\n" +
			"The port is opened once for all files. Opening the port resets most boards,\n" +
			"so webup waits for the device to settle before the first upload.\n" +
			"Without a port argument the port stored with 'webup config port' is used.",
		Example:      "  webup serial /dev/ttyACM0\n  webup serial /dev/ttyACM0 ./dist",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			port, rest, err := argOrConfig(args, cfg, PortCfgKey, "serial port")
			if err != nil {
				return err
			}
			target, err := serialTarget(cmd.Flags(), cfg, port)
			if err != nil {
				return err
			}
			return runBatch(cmd, cfg, target, rest)
		},
	}

	addSerialFlags(cmd.Flags())
	addTransferFlags(cmd.Flags(), upload.DefaultReadTimeout, 0)
	return cmd
}

func TCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcp [ip_address] [web_directory]",
		Short: "Upload the web interface over the network",
		Long: "Upload the web interface to the TCP upload server of the controller.\n\n" +
			"Every file is sent on its own connection as base64 encoded 'data' lines.\n" +
			"Without an address argument the host stored with 'webup config host' is used.",
		Example:      "  webup tcp 192.168.1.50\n  webup tcp 192.168.1.50:47293 ./dist",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			host, rest, err := argOrConfig(args, cfg, HostCfgKey, "address")
			if err != nil {
				return err
			}
			target, err := tcpTarget(cmd.Flags(), host)
			if err != nil {
				return err
			}
			return runBatch(cmd, cfg, target, rest)
		},
	}

	addTCPFlags(cmd.Flags())
	addTransferFlags(cmd.Flags(), upload.DefaultTCPReadTimeout, upload.DefaultMaxFileSize)
	return cmd
}

func runBatch(cmd *cobra.Command, cfg *viper.Viper, target upload.Target, args []string) error {
	enc, err := parseOutputFlag(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	manifest, err := loadManifest(cmd.Flags(), cfg)
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd.Flags(), consoleFor(enc))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logging.FromContext(ctx).WithField("version", GetInfo(ctx).Version).Debug("starting upload run")
	runner := upload.NewRunner(target, manifest, webDirectory(args), opts)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if enc != nil {
		return enc.Encode(report)
	}
	return nil
}
