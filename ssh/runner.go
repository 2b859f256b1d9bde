// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ssh runs the system ssh command to create port-forwarding tunnels
// to remote devices.
package ssh

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"

	clog "chromiumos/platform/dev/contrib/crosconn/log"
)

const sshCmd = "ssh"

// tunnelKeepaliveCmd keeps a plain forwarding tunnel open on the remote end.
const tunnelKeepaliveCmd = "sleep 8h"

// Runner executes ssh commands with a shared set of ssh options, streaming
// their output to prefixed loggers.
type Runner struct {
	sshOpts      []string
	identityFile string
	// nextCmdID is atomic; tunnels build their commands from concurrent
	// session goroutines.
	nextCmdID atomic.Int32
}

// NewRunner creates a Runner that applies the given "key=value" ssh options
// to every command it runs. identityFile, if non-empty, is passed as the ssh
// -i argument.
func NewRunner(sshOpts []string, identityFile string) *Runner {
	return &Runner{
		sshOpts:      sshOpts,
		identityFile: identityFile,
	}
}

// buildArgs normalizes ssh options into "-o key=value" arguments and appends
// the forwarding flags and positional arguments. Options may be given with
// or without a leading "-o " and with or without quoting around the value.
func buildArgs(sshOpts []string, identityFile string, flags []string, posArgs []string) ([]string, error) {
	args := make([]string, 0)
	for _, opt := range sshOpts {
		opt = strings.TrimPrefix(opt, "-o ")
		optParts := strings.SplitN(opt, "=", 2)
		if len(optParts) != 2 {
			return nil, fmt.Errorf("invalid ssh option %q", opt)
		}
		optValue := strings.TrimPrefix(optParts[1], "\"")
		optValue = strings.TrimSuffix(optValue, "\"")
		args = append(args, "-o", fmt.Sprintf("%s=%s", optParts[0], optValue))
	}
	if identityFile != "" {
		args = append(args, "-i", identityFile)
	}
	args = append(args, flags...)
	args = append(args, posArgs...)
	return args, nil
}

func (r *Runner) buildCmd(ctx context.Context, flags []string, posArgs []string) (*exec.Cmd, *log.Logger, error) {
	args, err := buildArgs(r.sshOpts, r.identityFile, flags, posArgs)
	if err != nil {
		return nil, nil, err
	}

	// Group ssh and its forked processes so the whole group can be killed.
	cmd := exec.CommandContext(ctx, sshCmd, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	// Capture command output to log with a unique prefix.
	logPrefix := fmt.Sprintf("SSH[%d]: ", r.nextCmdID.Add(1))
	cmdLogger := clog.NewLogger(logPrefix)
	logWriter := clog.NewWriter(cmdLogger)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	return cmd, cmdLogger, nil
}

// Run executes an ssh command and waits for it to exit or for the context to
// be cancelled, whichever happens first. The ssh process group is killed on
// the way out either way. Returns the process error, or ctx.Err() if the
// context settled first.
func (r *Runner) Run(ctx context.Context, flags []string, posArgs []string) error {
	cmd, cmdLogger, err := r.buildCmd(ctx, flags, posArgs)
	if err != nil {
		return err
	}
	cmdLogger.Printf("RUN: %s", cmd.String())

	runChan := make(chan error, 1)
	go func() {
		runChan <- cmd.Run()
	}()
	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-runChan:
	}

	// Silently kill this ssh process group.
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return runErr
}

// Tunnel opens an ssh tunnel forwarding localPort to remotePort on
// remoteHost as reached from sshHost, running remoteCmd (or a keepalive
// sleep if empty) on the remote end.
//
// A tunnel process is expected to run until it is told to stop, so a normal
// process exit is reported as an error. If the context is cancelled, the
// exit is a clean shutdown and Tunnel returns nil.
func (r *Runner) Tunnel(ctx context.Context, localPort int, remoteHost string, remotePort int, sshHost string, remoteCmd string) error {
	if remoteHost == "" {
		remoteHost = "localhost"
	}
	if remoteCmd == "" {
		remoteCmd = tunnelKeepaliveCmd
	}
	flags := []string{
		"-L", fmt.Sprintf("%d:%s:%d", localPort, remoteHost, remotePort),
	}
	posArgs := []string{
		sshHost,
		remoteCmd,
	}
	err := r.Run(ctx, flags, posArgs)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ssh tunnel to %s failed: %w", sshHost, err)
	}
	return fmt.Errorf("ssh tunnel to %s exited unexpectedly", sshHost)
}
