// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package portutil provides local TCP port allocation and readiness
// checking for forwarded tunnel ports.
package portutil

import (
	"context"
	"fmt"
	"net"
	"time"
)

// pollInterval is the minimum time between connect attempts in PollReady.
const pollInterval = 200 * time.Millisecond

// probeTimeout bounds a single connect attempt in ProbePort.
const probeTimeout = time.Second

// FindUnusedPort reserves an ephemeral TCP port on localhost by binding to
// port 0, then releases it and returns the port number. The port is free at
// return time, but another process may claim it before the caller binds it
// again; that window is accepted and not mitigated.
func FindUnusedPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("could not reserve a local port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("could not release reserved port %d: %w", port, err)
	}
	return port, nil
}

// ProbePort reports whether something is currently accepting connections on
// the given localhost port. Used to check whether an existing session's
// forwarded port is still alive before reusing it.
func ProbePort(ctx context.Context, port int) bool {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", localAddr(port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// PollReady repeatedly attempts a raw TCP connection to the given localhost
// port until one succeeds, waiting pollInterval between attempts. Connect
// errors are retried silently; readiness of a forwarded port cannot be
// observed except by attempting the connection. Returns nil once a
// connection succeeds, or ctx.Err() if the context is cancelled first. No
// connect attempt is started after cancellation is observed.
func PollReady(ctx context.Context, port int) error {
	dialer := net.Dialer{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := dialer.DialContext(ctx, "tcp", localAddr(port))
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func localAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}
