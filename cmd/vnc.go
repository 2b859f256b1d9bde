// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"fmt"

	"chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/proxy"
	"chromiumos/platform/dev/contrib/crosconn/session"

	"github.com/spf13/cobra"
)

// remoteVncCmd restarts the VNC server on the device before serving: any
// stale kmsvnc holding the port is killed first.
const remoteVncCmd = "fuser -k 5900/tcp; kmsvnc"

const tigerVncCmd = "xtigervncviewer"

var (
	doNotOpenVnc bool

	vncCmd = &cobra.Command{
		Use:   "vnc <dut_hostname>",
		Short: "Starts and connects to a VNC server on a device for remote GUI access.",
		Long: `
Starts kmsvnc on the device via ssh, opens a tunnel session to it, and
bridges the tunnel to local VNC clients.

The forwarded port serves the raw VNC protocol, so any VNC client can
connect to it directly. A local WebSocket proxy is also started on its own
port for clients that can only open WebSocket connections (such as browser
based viewers); binary frames are relayed 1:1 to the VNC port.

Unless --do-not-open-vnc is given, TigerVNC is launched against the
forwarded port once the tunnel is ready.

The kmsvnc process on the device is stopped and the session disposed upon
stopping crosconn, or when the device's lease ends.
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
			s, err := startSession(ctx, registry, hostname, session.ProtocolVNC, func() *session.Session {
				return session.New(hostname, session.ProtocolVNC, sshTunnelFunc(runner, hostname, remotePortVnc, remoteVncCmd))
			})
			if err != nil {
				return err
			}

			wsProxy, err := proxy.NewWebSocketProxy(s.ForwardPort())
			if err != nil {
				return fmt.Errorf("could not start websocket proxy: %w", err)
			}
			s.AddDisposable(wsProxy)

			log.Logger.Printf("Device VNC available at localhost:%d", s.ForwardPort())
			log.Logger.Printf("WebSocket VNC bridge available at ws://localhost:%d", wsProxy.ListenPort())

			if !doNotOpenVnc {
				go func() {
					runContextualCommand(ctx, "TIGERVNC: ", tigerVncCmd,
						fmt.Sprintf("localhost:%d", s.ForwardPort()), "-Log", "*:stderr:0")
				}()
			}

			select {
			case <-ctx.Done():
			case <-s.Done():
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(vncCmd)
	vncCmd.Flags().BoolVar(&doNotOpenVnc, "do-not-open-vnc", false, "Do not launch TigerVNC")
}
