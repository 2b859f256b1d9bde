// Copyright 2024 The ChromiumOS Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const crosconnVersion = "1.0.0"

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Displays the version of crosconn.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crosconn version: %s\n", crosconnVersion)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd)
}
