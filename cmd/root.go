// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:     "crosconn",
		Version: "1.0.0",
		Short:   "Manage ssh and VNC tunnel sessions to ChromiumOS devices.",
		Long: `
Manage ssh and VNC tunnel sessions to ChromiumOS devices.

crosconn opens port-forwarding ssh tunnels to devices you own or have leased
from the lab fleet, keeps at most one session per device and protocol, and
bridges sandboxed UI surfaces to the forwarded ports through local proxies.

To stop a running crosconn command, send the SIGINT signal to the process. If
running crosconn in a terminal environment, you can do this with CTRL+C. All
sessions are disposed and their tunnels destroyed upon stopping crosconn.

Devices are addressed by hostname. The special hostname "leased" selects a
device from your active crosfleet leases; sessions to leased devices close
automatically when the lease deadline passes.

Local forwarding ports are allocated from the operating system's ephemeral
range, so no two sessions contend for the same port.
`,
	}

	// Persistent CLI Flags.
	sshOptions    []string
	sshUser       string
	identityFile  string
	remotePortSsh int
	remotePortVnc int
	configPath    string
)

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(
		&sshOptions, "ssh-options", "o",
		[]string{
			"StrictHostKeyChecking=no",
			"UserKnownHostsFile=/dev/null",
			"ExitOnForwardFailure=yes",
			"ForkAfterAuthentication=no",
			"VerifyHostKeyDNS=no",
			"CheckHostIP=no",
			"LogLevel=ERROR",
			"ServerAliveInterval=1",
			"ServerAliveCountMax=10",
			"Compression=yes",
		},
		"ssh options for all ssh commands",
	)
	rootCmd.PersistentFlags().StringVar(&sshUser, "ssh-user", "root", "User to ssh to devices as")
	rootCmd.PersistentFlags().StringVarP(&identityFile, "identity-file", "i", "", "Private key passed to ssh -i")
	rootCmd.PersistentFlags().IntVar(&remotePortSsh, "remote-port-ssh", 22, "Remote port ssh tunnels forward to")
	rootCmd.PersistentFlags().IntVar(&remotePortVnc, "remote-port-vnc", 5900, "Remote port for accessing kmsvnc on the device")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path of the device config file (defaults to the user config directory)")
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
