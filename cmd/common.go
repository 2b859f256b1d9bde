// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"chromiumos/platform/dev/contrib/crosconn/device"
	"chromiumos/platform/dev/contrib/crosconn/fileutils"
	"chromiumos/platform/dev/contrib/crosconn/fleet"
	clog "chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/session"
	"chromiumos/platform/dev/contrib/crosconn/ssh"
)

const crosfleetHostnamePrefix = "crossk-"

// resolveHostname removes any crosfleet name prefix from a hostname
// parameter.
func resolveHostname(hostnameParam string) string {
	return strings.TrimPrefix(hostnameParam, crosfleetHostnamePrefix)
}

// resolveDutHostname resolves the hostname parameter of a device command.
// The special value "leased" selects a device from the active crosfleet
// leases, prompting if there is more than one. Returns the hostname and
// whether the device is leased.
func resolveDutHostname(ctx context.Context, repo *fleet.Repository, hostnameParam string) (string, bool, error) {
	if hostnameParam != "leased" {
		return resolveHostname(hostnameParam), false, nil
	}
	devices, err := repo.Devices(ctx)
	if err != nil {
		return "", true, err
	}
	if len(devices) < 1 {
		return "", true, fmt.Errorf("could not find any devices leased from crosfleet")
	}
	if len(devices) == 1 {
		clog.Logger.Printf("Defaulting to only leased device: %s", devices[0].Hostname)
		return devices[0].Hostname, true, nil
	}
	hostname, err := promptUserForDeviceChoice(ctx, devices)
	return hostname, true, err
}

func promptUserForDeviceChoice(ctx context.Context, devices []fleet.LeasedDevice) (string, error) {
	totalDevices := len(devices)
	prompt := fmt.Sprintf("Found %d leased devices, please select the device you would like to connect to:\n", totalDevices)
	for i, d := range devices {
		line := d.Hostname
		if d.Board != "" {
			line += fmt.Sprintf(" (%s", d.Board)
			if d.Model != "" {
				line += "/" + d.Model
			}
			line += ")"
		}
		if !d.Deadline.IsZero() {
			line += fmt.Sprintf(" [lease ends %s]", d.Deadline.Local().Format("15:04"))
		}
		prompt += fmt.Sprintf("%d: %s\n", i, line)
	}
	prompt += fmt.Sprintf("\nSelect from 0-%d: ", totalDevices-1)
	inputReader := bufio.NewReader(fileutils.NewContextReader(ctx, os.Stdin))
	for {
		var selected int
		fmt.Print(prompt)
		input, err := inputReader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read user input for prompt: %w", err)
		}
		n, err := fmt.Sscanf(input, "%d", &selected)
		if n != 1 || err != nil {
			continue
		}
		if selected >= totalDevices || selected < 0 {
			fmt.Printf("\nInvalid index %d\n\n", selected)
			continue
		}
		clog.Logger.Printf("Using user selected leased device: %s", devices[selected].Hostname)
		return devices[selected].Hostname, nil
	}
}

func buildRunner() *ssh.Runner {
	return ssh.NewRunner(sshOptions, identityFile)
}

// sshTarget prepends the configured ssh user to a hostname.
func sshTarget(hostname string) string {
	if strings.Contains(hostname, "@") {
		return hostname
	}
	return fmt.Sprintf("%s@%s", sshUser, hostname)
}

func deviceRepository() (*device.Repository, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = device.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return device.NewRepository(path), nil
}

func fleetRepository(devices *device.Repository) *fleet.Repository {
	return fleet.NewRepository(fleet.CrosfleetClient{}, devices)
}

// sshTunnelFunc builds a session tunnel that forwards a local port to
// remotePort on the device, running remoteCmd (or a keepalive) remotely.
func sshTunnelFunc(runner *ssh.Runner, hostname string, remotePort int, remoteCmd string) session.TunnelFunc {
	return func(ctx context.Context, localPort int) error {
		return runner.Tunnel(ctx, localPort, "", remotePort, sshTarget(hostname), remoteCmd)
	}
}

// startSession creates or reuses a tunnel session through the registry,
// wrapping failures in a user-facing hint to check the ssh output.
func startSession(ctx context.Context, registry *session.Registry, hostname string, protocol session.Protocol, create func() *session.Session) (*session.Session, error) {
	s, reused, err := registry.GetOrCreate(ctx, hostname, protocol, create)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("could not connect to %s: %w (see the SSH output above for details)", hostname, err)
	}
	if reused {
		clog.Logger.Printf("Reusing existing %s session to %s on local port %d", protocol, hostname, s.ForwardPort())
	}
	return s, nil
}

// watchLease derives a context that is cancelled when the device's fleet
// lease ends or is abandoned. The repository's deadline timer invalidates
// the cache at the earliest lease deadline, which triggers a refetch here.
func watchLease(ctx context.Context, repo *fleet.Repository, hostname string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	changed := make(chan struct{}, 1)
	repo.OnDidChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	go func() {
		for {
			devices, err := repo.Devices(ctx)
			if err != nil {
				if ctx.Err() == nil {
					clog.Logger.Printf("unable to determine lease info for %s, session will run until stopped: %v", hostname, err)
				}
				return
			}
			found := false
			for _, d := range devices {
				if d.Hostname == hostname {
					found = true
					if !d.Deadline.IsZero() {
						clog.Logger.Printf("lease for %s ends at %s", hostname, d.Deadline.Local().Format("15:04"))
					}
					break
				}
			}
			if !found {
				clog.Logger.Printf("lease for %s ended, closing session", hostname)
				cancel()
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx
}

// runContextualCommand runs a local command, streaming its output to a
// prefixed logger, until it exits or the context is cancelled. Any
// subprocesses are killed with the command's process group.
func runContextualCommand(ctx context.Context, logPrefix string, command string, args ...string) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	cmdLogger := clog.NewLogger(logPrefix)
	logWriter := clog.NewWriter(cmdLogger)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

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
	if runErr != nil && ctx.Err() == nil {
		clog.Logger.Printf("Error running command %q: %v", command, runErr)
	}

	// Silently kill any subprocesses.
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
