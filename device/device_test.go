// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(filepath.Join(t.TempDir(), "devices.yaml"))
}

func TestOwnedDeviceRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	devices, err := repo.Owned()
	if err != nil {
		t.Fatalf("Owned on missing file failed: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("Owned on missing file = %v, want empty", devices)
	}

	if err := repo.AddOwned("dut1"); err != nil {
		t.Fatalf("AddOwned failed: %v", err)
	}
	if err := repo.AddOwned("dut2"); err != nil {
		t.Fatalf("AddOwned failed: %v", err)
	}

	// A fresh repository over the same file sees the persisted list.
	reopened := NewRepository(repo.path)
	devices, err = reopened.Owned()
	if err != nil {
		t.Fatalf("Owned failed: %v", err)
	}
	if len(devices) != 2 || devices[0].Hostname != "dut1" || devices[1].Hostname != "dut2" {
		t.Errorf("Owned = %v, want [dut1 dut2]", devices)
	}
}

func TestAddOwnedRejectsDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.AddOwned("dut1"); err != nil {
		t.Fatalf("AddOwned failed: %v", err)
	}
	if err := repo.AddOwned("dut1"); err == nil {
		t.Error("AddOwned accepted a duplicate hostname")
	}
	if err := repo.AddOwned(""); err == nil {
		t.Error("AddOwned accepted an empty hostname")
	}
}

func TestRemoveOwned(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.AddOwned("dut1"); err != nil {
		t.Fatalf("AddOwned failed: %v", err)
	}
	if err := repo.RemoveOwned("dut1"); err != nil {
		t.Fatalf("RemoveOwned failed: %v", err)
	}
	if err := repo.RemoveOwned("dut1"); err == nil {
		t.Error("RemoveOwned succeeded for an unregistered device")
	}
	devices, err := repo.Owned()
	if err != nil {
		t.Fatalf("Owned failed: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Owned after removal = %v, want empty", devices)
	}
}

func TestAbandonedHostnames(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	if err := repo.Abandon("dut9"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	// Abandoning twice is a no-op.
	if err := repo.Abandon("dut9"); err != nil {
		t.Fatalf("repeated Abandon failed: %v", err)
	}
	hostnames, err := repo.AbandonedHostnames(ctx)
	if err != nil {
		t.Fatalf("AbandonedHostnames failed: %v", err)
	}
	if len(hostnames) != 1 || hostnames[0] != "dut9" {
		t.Errorf("AbandonedHostnames = %v, want [dut9]", hostnames)
	}
}

func TestChangeObservers(t *testing.T) {
	repo := newTestRepository(t)
	var changes atomic.Int32
	repo.OnDidChange(func() { changes.Add(1) })

	if err := repo.AddOwned("dut1"); err != nil {
		t.Fatalf("AddOwned failed: %v", err)
	}
	if err := repo.RemoveOwned("dut1"); err != nil {
		t.Fatalf("RemoveOwned failed: %v", err)
	}
	// Failed mutations do not notify.
	repo.RemoveOwned("dut1")
	if got := changes.Load(); got != 2 {
		t.Errorf("change notifications = %d, want 2", got)
	}
}
