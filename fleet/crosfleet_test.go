// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fleet

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseLeases(t *testing.T) {
	input := []byte(`{
		"Leases": [
			{
				"Build": {
					"ID": "8800001",
					"Status": "STARTED",
					"StartTime": "2024-05-01T10:00:00Z",
					"Input": {"Properties": {"lease_length_minutes": 60}}
				},
				"DUT": {"Hostname": "chromeos8-row4-rack12-host2", "Board": "brya", "Model": "redrix"}
			},
			{
				"Build": {
					"ID": "8800002",
					"Status": "COMPLETED",
					"StartTime": "2024-05-01T08:00:00Z",
					"Input": {"Properties": {"lease_length_minutes": 60}}
				},
				"DUT": {"Hostname": "chromeos8-row4-rack12-host3"}
			},
			{
				"Build": {"ID": "8800003", "Status": "STARTED"},
				"DUT": {"Hostname": ""}
			}
		]
	}`)
	devices, err := parseLeases(input)
	if err != nil {
		t.Fatalf("parseLeases failed: %v", err)
	}
	want := []LeasedDevice{
		{
			Hostname: "chromeos8-row4-rack12-host2",
			Board:    "brya",
			Model:    "redrix",
			Deadline: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		},
	}
	if diff := cmp.Diff(want, devices); diff != "" {
		t.Errorf("parseLeases mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLeasesWithoutStartTime(t *testing.T) {
	input := []byte(`{
		"Leases": [
			{
				"Build": {"ID": "1", "Status": "STARTED", "StartTime": "not-a-time"},
				"DUT": {"Hostname": "dut1"}
			}
		]
	}`)
	devices, err := parseLeases(input)
	if err != nil {
		t.Fatalf("parseLeases failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("parseLeases returned %d devices, want 1", len(devices))
	}
	if !devices[0].Deadline.IsZero() {
		t.Errorf("deadline = %v, want zero when start time is unparseable", devices[0].Deadline)
	}
}

func TestParseLeasesBadJSON(t *testing.T) {
	if _, err := parseLeases([]byte("not json")); err == nil {
		t.Error("parseLeases accepted invalid JSON")
	}
}
