// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"errors"

	"chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/session"

	"github.com/spf13/cobra"
)

var (
	watchCmd = &cobra.Command{
		Use:   "watch host1 [host2 [... hostN]]",
		Short: "Ssh tunnel sessions to multiple hosts.",
		Long: `
Opens ssh tunnel sessions to the remote ssh port of every specified host.

Each host gets its own session with its own forwarded local port. A host
whose tunnel dies is reported and its session disposed; the remaining
sessions are unaffected. crosconn exits once every session is gone, or when
it is stopped.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry := session.NewRegistry()
			defer registry.DisposeAll()
			runner := buildRunner()

			sessions := make([]*session.Session, 0, len(args))
			for _, host := range args {
				hostname := resolveHostname(host)
				s, err := startSession(ctx, registry, hostname, session.ProtocolSSH, func() *session.Session {
					return session.New(hostname, session.ProtocolSSH, sshTunnelFunc(runner, hostname, remotePortSsh, ""))
				})
				if err != nil {
					log.Logger.Printf("%v", err)
					continue
				}
				log.Logger.Printf("%s ssh available at localhost:%d", hostname, s.ForwardPort())
				sessions = append(sessions, s)
			}
			if len(sessions) == 0 {
				return errors.New("no sessions could be established")
			}

			for _, s := range sessions {
				select {
				case <-ctx.Done():
					return nil
				case <-s.Done():
				}
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(watchCmd)
}
