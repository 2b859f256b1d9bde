// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fleet lists devices leased from the lab fleet service via the
// crosfleet CLI and caches them with deadline-driven invalidation.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// LeasedDevice is a read-only projection of one active fleet lease. Only
// the hostname is always present; board, model and deadline are filled to
// the extent the fleet service reports them.
type LeasedDevice struct {
	Hostname string
	Board    string
	Model    string
	Deadline time.Time
}

// Client is the external fleet service surface the repository depends on:
// a login check, the lease listing and the abandoned-host exclusion list.
type Client interface {
	CheckLogin(ctx context.Context) (bool, error)
	ListLeases(ctx context.Context) ([]LeasedDevice, error)
}

// AbandonedSource lists hostnames the user has abandoned, which are
// excluded from lease listings.
type AbandonedSource interface {
	AbandonedHostnames(ctx context.Context) ([]string, error)
}

// leaseInfo mirrors the JSON output of "crosfleet dut leases -json".
type leaseInfo struct {
	Leases []struct {
		Build struct {
			ID        string
			Status    string
			StartTime string
			Input     struct {
				Properties struct {
					LeaseLengthMinutes int `json:"lease_length_minutes"`
				}
			}
		}
		DUT struct {
			Hostname string
			Board    string
			Model    string
		}
	}
}

// CrosfleetClient implements Client by running the crosfleet CLI.
type CrosfleetClient struct{}

var _ Client = CrosfleetClient{}

func crosfleetInstalled() error {
	_, err := exec.LookPath("crosfleet")
	if err != nil {
		return fmt.Errorf("could not find crosfleet cli on path, goto http://go/crosfleet-cli for instructions to install it")
	}
	return nil
}

// CheckLogin reports whether the user has an authenticated crosfleet
// session. A failing "crosfleet whoami" means not logged in rather than an
// error; only a missing binary is reported as an error.
func (CrosfleetClient) CheckLogin(ctx context.Context) (bool, error) {
	if err := crosfleetInstalled(); err != nil {
		return false, err
	}
	cmd := exec.CommandContext(ctx, "crosfleet", "whoami")
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}

// ListLeases returns all active leases held by the user.
func (CrosfleetClient) ListLeases(ctx context.Context) ([]LeasedDevice, error) {
	if err := crosfleetInstalled(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "crosfleet", "dut", "leases", "-json")
	b, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("could not get crosfleet lease info: %w", err)
	}
	return parseLeases(b)
}

// parseLeases extracts active leases from crosfleet JSON output. Leases
// without a hostname or not in the STARTED state are skipped. The lease
// deadline is derived from the build start time plus the requested lease
// length.
func parseLeases(b []byte) ([]LeasedDevice, error) {
	var info leaseInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("could not parse crosfleet lease info: %w", err)
	}
	var devices []LeasedDevice
	for _, lease := range info.Leases {
		if lease.DUT.Hostname == "" {
			continue
		}
		if lease.Build.Status != "STARTED" {
			continue
		}
		device := LeasedDevice{
			Hostname: lease.DUT.Hostname,
			Board:    lease.DUT.Board,
			Model:    lease.DUT.Model,
		}
		if startTime, err := time.Parse(time.RFC3339, lease.Build.StartTime); err == nil {
			minutes := lease.Build.Input.Properties.LeaseLengthMinutes
			if minutes > 0 {
				device.Deadline = startTime.Add(time.Duration(minutes) * time.Minute)
			}
		}
		devices = append(devices, device)
	}
	return devices, nil
}
