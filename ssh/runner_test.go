// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/frankban/quicktest"
)

func TestBuildArgs(t *testing.T) {
	testCases := []struct {
		name         string
		sshOpts      []string
		identityFile string
		flags        []string
		posArgs      []string
		want         []string
		errString    string
	}{
		{
			name:    "plain option",
			sshOpts: []string{"StrictHostKeyChecking=no"},
			want:    []string{"-o", "StrictHostKeyChecking=no"},
		},
		{
			name:    "option with -o prefix and quoted value",
			sshOpts: []string{"-o UserKnownHostsFile=\"/dev/null\""},
			want:    []string{"-o", "UserKnownHostsFile=/dev/null"},
		},
		{
			name:      "invalid option without value",
			sshOpts:   []string{"Compression"},
			errString: `invalid ssh option "Compression"`,
		},
		{
			name:         "identity file and forwarding flags",
			identityFile: "/path/to/key",
			flags:        []string{"-L", "2200:localhost:22"},
			posArgs:      []string{"root@dut1", "sleep 8h"},
			want:         []string{"-i", "/path/to/key", "-L", "2200:localhost:22", "root@dut1", "sleep 8h"},
		},
		{
			name:    "option value containing equals",
			sshOpts: []string{"ControlPath=/tmp/ssh-%C=x"},
			want:    []string{"-o", "ControlPath=/tmp/ssh-%C=x"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qt := quicktest.New(t)
			args, err := buildArgs(tc.sshOpts, tc.identityFile, tc.flags, tc.posArgs)
			if tc.errString != "" {
				qt.Assert(err, quicktest.ErrorMatches, regexp.QuoteMeta(tc.errString))
				return
			}
			qt.Assert(err, quicktest.IsNil)
			qt.Check(args, quicktest.DeepEquals, tc.want)
		})
	}
}

// Sessions build their ssh commands from separate goroutines; the command
// IDs in the log prefixes must stay unique under concurrency.
func TestBuildCmdConcurrentPrefixesUnique(t *testing.T) {
	qt := quicktest.New(t)
	r := NewRunner(nil, "")

	const n = 16
	prefixes := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, cmdLogger, err := r.buildCmd(context.Background(), nil, []string{"root@dut1", "true"})
			qt.Check(err, quicktest.IsNil)
			prefixes[i] = cmdLogger.Prefix()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, prefix := range prefixes {
		qt.Check(seen[prefix], quicktest.IsFalse, quicktest.Commentf("duplicate log prefix %q", prefix))
		seen[prefix] = true
	}
}
