// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/toitlang/webup/cmd/webup/directory"
	"github.com/toitlang/webup/cmd/webup/upload"
)

const (
	PortCfgKey     = "port"
	HostCfgKey     = "host"
	BaudCfgKey     = "baud"
	ManifestCfgKey = "manifest"
)

type configKey struct {
	name  string
	short string
	// parse validates the value and returns what gets stored.
	parse func(string) (interface{}, error)
}

var configKeys = []configKey{
	{
		name:  PortCfgKey,
		short: "Set the default serial port",
		parse: func(s string) (interface{}, error) { return s, nil },
	},
	{
		name:  HostCfgKey,
		short: "Set the default controller address for TCP uploads",
		parse: func(s string) (interface{}, error) { return s, nil },
	},
	{
		name:  BaudCfgKey,
		short: "Set the default serial baud rate",
		parse: func(s string) (interface{}, error) {
			baud, err := strconv.Atoi(s)
			if err != nil || baud <= 0 {
				return nil, fmt.Errorf("invalid baud rate '%s'", s)
			}
			return baud, nil
		},
	},
	{
		name:  ManifestCfgKey,
		short: "Set the default manifest file",
		parse: func(s string) (interface{}, error) {
			path, err := filepath.Abs(s)
			if err != nil {
				return nil, err
			}
			if _, err := upload.LoadManifest(path); err != nil {
				return nil, err
			}
			return path, nil
		},
	},
}

func lookupConfigKey(name string) (configKey, bool) {
	for _, k := range configKeys {
		if k.name == name {
			return k, true
		}
	}
	return configKey{}, false
}

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure webup",
		Long: "Configure the defaults of the webup command line tool.\n\n" +
			"The configuration is stored in ~/.config/webup/config.yaml, or in the\n" +
			"file named by $" + directory.UserConfigPathEnv + ".",
	}

	for _, k := range configKeys {
		cmd.AddCommand(configSetCmd(k))
	}
	cmd.AddCommand(
		ConfigUnsetCmd(),
		ConfigShowCmd(),
	)
	return cmd
}

func configSetCmd(key configKey) *cobra.Command {
	return &cobra.Command{
		Use:          key.name + " <value>",
		Short:        key.short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := key.parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			cfg.Set(key.name, value)
			return directory.WriteConfig(cfg)
		},
	}
}

func ConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "unset <key>",
		Short:        "Remove a stored default",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := lookupConfigKey(args[0])
			if !ok {
				return fmt.Errorf("unknown config key '%s'", args[0])
			}
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			if cfg, err = directory.Unset(cfg, key.name); err != nil {
				return err
			}
			return directory.WriteConfig(cfg)
		},
	}
}

func ConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "show",
		Short:        "Print the stored defaults",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file:\t%s\n", cfg.ConfigFileUsed())
			for _, k := range configKeys {
				value := "(not set)"
				if v := cfg.GetString(k.name); v != "" {
					value = v
				}
				fmt.Fprintf(out, "%s:\t%s\n", k.name, value)
			}
			return nil
		},
	}
}
