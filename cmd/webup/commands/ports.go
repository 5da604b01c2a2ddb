// Copyright (C) 2026 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/toitlang/webup/cmd/webup/directory"
	"go.bug.st/serial"
)

func PortsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ports",
		Short:        "List the serial ports a controller could be attached to",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}
			sel, err := cmd.Flags().GetBool("select")
			if err != nil {
				return err
			}

			ports, err := listPorts(all)
			if err != nil {
				return err
			}

			if !sel {
				out := cmd.OutOrStdout()
				for _, p := range ports {
					fmt.Fprintln(out, p)
				}
				return nil
			}

			port, err := pickPort(ports)
			if err != nil {
				return err
			}
			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}
			cfg.Set(PortCfgKey, port)
			if err := directory.WriteConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Using '%s' as the default serial port\n", port)
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "if set, will show all available ports")
	cmd.Flags().Bool("select", false, "pick a port and store it as the default")
	return cmd
}

func listPorts(all bool) ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	if !all {
		ports = filterPorts(runtime.GOOS, ports)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports detected. Is the controller connected? Use --all to see every port")
	}
	return ports, nil
}

func pickPort(ports []string) (string, error) {
	prompt := promptui.Select{
		Label:     "Choose what serial port you want to use",
		Items:     ports,
		Templates: &promptui.SelectTemplates{},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("you didn't select anything")
	}

	return ports[i], nil
}

func filterPorts(goos string, ports []string) []string {
	switch goos {
	case "darwin":
		return darwinFilterPaths(ports)
	case "linux":
		return linuxFilterPaths(ports)
	default:
		return ports
	}
}

// darwinFilterPaths prefers the call-out device over its tty twin.
func darwinFilterPaths(paths []string) []string {
	existing := map[string]struct{}{}
	for _, p := range paths {
		existing[p] = struct{}{}
	}
	var res []string
	for _, path := range paths {
		if strings.Contains(path, "Bluetooth") {
			continue
		}
		if strings.HasPrefix(path, "/dev/cu") {
			res = append(res, path)
		} else if strings.HasPrefix(path, "/dev/tty") {
			candidate := "/dev/cu" + strings.TrimPrefix(path, "/dev/tty")
			if _, exists := existing[candidate]; !exists {
				res = append(res, path)
			}
		}
	}
	return res
}

// The Pico enumerates as a CDC ACM device, USB-serial adapters as ttyUSB.
func linuxFilterPaths(paths []string) []string {
	var res []string
	for _, path := range paths {
		if strings.HasPrefix(path, "/dev/ttyACM") || strings.HasPrefix(path, "/dev/ttyUSB") {
			res = append(res, path)
		}
	}
	return res
}
