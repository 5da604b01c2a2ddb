// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toitlang/webup/cmd/webup/directory"
	"github.com/toitlang/webup/cmd/webup/upload"
)

// listing is the file listing of a device, one line per file.
type listing []string

func (l listing) Lines() []string {
	return l
}

func ListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the files stored on the device",
	}

	serialCmd := &cobra.Command{
		Use:          "serial [port]",
		Short:        "List the files over a serial port",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			port, _, err := argOrConfig(args, cfg, PortCfgKey, "serial port")
			if err != nil {
				return err
			}
			target, err := serialTarget(cmd.Flags(), cfg, port)
			if err != nil {
				return err
			}
			return runList(cmd, target)
		},
	}
	addSerialFlags(serialCmd.Flags())
	addTimeoutFlag(serialCmd.Flags(), upload.DefaultReadTimeout)

	tcpCmd := &cobra.Command{
		Use:          "tcp [ip_address]",
		Short:        "List the files over the network",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			host, _, err := argOrConfig(args, cfg, HostCfgKey, "address")
			if err != nil {
				return err
			}
			target, err := tcpTarget(cmd.Flags(), host)
			if err != nil {
				return err
			}
			return runList(cmd, target)
		},
	}
	addTCPFlags(tcpCmd.Flags())
	addTimeoutFlag(tcpCmd.Flags(), upload.DefaultTCPReadTimeout)

	for _, c := range []*cobra.Command{serialCmd, tcpCmd} {
		c.Flags().StringP("output", "o", "", "print the listing as json, yaml or short")
	}

	cmd.AddCommand(serialCmd, tcpCmd)
	return cmd
}

func runList(cmd *cobra.Command, target upload.Target) error {
	enc, err := parseOutputFlag(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	runner := upload.NewRunner(target, upload.Manifest{}, "", upload.RunOptions{
		Session: upload.SessionOptions{ReadTimeout: timeout},
	})
	files, err := runner.List(cmd.Context())
	if err != nil {
		return err
	}
	if enc != nil {
		return enc.Encode(listing(files))
	}
	out := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintln(out, "No files on device.")
		return nil
	}
	fmt.Fprintln(out, "Files on device:")
	for _, f := range files {
		fmt.Fprintln(out, f)
	}
	return nil
}
