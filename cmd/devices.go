// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "List and manage known devices.",
		Long: `
Lists your devices: owned devices registered with "devices add" and devices
currently leased from crosfleet.

Owned devices are kept in the crosconn config file and never expire. Leased
devices are read from the crosfleet CLI and shown with their board, model
and lease deadline where known; abandoned devices are excluded.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			devices, err := deviceRepository()
			if err != nil {
				return err
			}

			owned, err := devices.Owned()
			if err != nil {
				return err
			}
			fmt.Printf("Owned devices (%d):\n", len(owned))
			for _, d := range owned {
				fmt.Printf("  %s\n", d.Hostname)
			}

			leased, err := fleetRepository(devices).Devices(ctx)
			if err != nil {
				return fmt.Errorf("could not list leased devices: %w", err)
			}
			fmt.Printf("Leased devices (%d):\n", len(leased))
			for _, d := range leased {
				line := "  " + d.Hostname
				if d.Board != "" {
					line += fmt.Sprintf("  board=%s", d.Board)
				}
				if d.Model != "" {
					line += fmt.Sprintf("  model=%s", d.Model)
				}
				if !d.Deadline.IsZero() {
					line += fmt.Sprintf("  lease ends %s", d.Deadline.Local().Format("2006-01-02 15:04"))
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	devicesAddCmd = &cobra.Command{
		Use:   "add <hostname>",
		Short: "Register an owned device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := deviceRepository()
			if err != nil {
				return err
			}
			return devices.AddOwned(resolveHostname(args[0]))
		},
	}

	devicesRemoveCmd = &cobra.Command{
		Use:   "remove <hostname>",
		Short: "Unregister an owned device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := deviceRepository()
			if err != nil {
				return err
			}
			return devices.RemoveOwned(resolveHostname(args[0]))
		},
	}

	devicesAbandonCmd = &cobra.Command{
		Use:   "abandon <hostname>",
		Short: "Hide a leased device from lease listings.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := deviceRepository()
			if err != nil {
				return err
			}
			return devices.Abandon(resolveHostname(args[0]))
		},
	}
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesAddCmd)
	devicesCmd.AddCommand(devicesRemoveCmd)
	devicesCmd.AddCommand(devicesAbandonCmd)
}
