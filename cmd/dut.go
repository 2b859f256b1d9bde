// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"fmt"

	"chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/session"

	"github.com/spf13/cobra"
)

var (
	dutCmd = &cobra.Command{
		Use:   "dut <dut_hostname>",
		Short: "Ssh tunnel session to a device.",
		Long: `
Opens an ssh tunnel session to the remote ssh port of the device given by
dut_hostname.

The device hostname is resolved from <dut_hostname> by removing the prefix
"crossk-" if it is present. Pass "leased" to pick a device from your active
crosfleet leases; sessions to leased devices close when the lease ends.

The session is disposed and its tunnel destroyed upon stopping crosconn, or
when the tunnel process dies.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			devices, err := deviceRepository()
			if err != nil {
				return err
			}
			fleetRepo := fleetRepository(devices)
			hostname, leased, err := resolveDutHostname(ctx, fleetRepo, args[0])
			if err != nil {
				return fmt.Errorf("could not determine hostname: %w", err)
			}
			if leased {
				ctx = watchLease(ctx, fleetRepo, hostname)
			}

			registry := session.NewRegistry()
			defer registry.DisposeAll()
			runner := buildRunner()
			s, err := startSession(ctx, registry, hostname, session.ProtocolSSH, func() *session.Session {
				return session.New(hostname, session.ProtocolSSH, sshTunnelFunc(runner, hostname, remotePortSsh, ""))
			})
			if err != nil {
				return err
			}

			log.Logger.Printf("Device ssh available at localhost:%d", s.ForwardPort())
			log.Logger.Printf("Example Tast call (in chroot): tast run localhost:%d <test>", s.ForwardPort())
			select {
			case <-ctx.Done():
			case <-s.Done():
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(dutCmd)
}
