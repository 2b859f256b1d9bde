// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main includes the main function for running crosconn as an
// executable.
package main

import (
	"context"
	"os"
	"os/signal"

	"chromiumos/platform/dev/contrib/crosconn/cmd"
	"chromiumos/platform/dev/contrib/crosconn/log"
)

func main() {
	// Create context that will cancel when a SIGINT signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	interruptSignalChannel := make(chan os.Signal, 1)
	signal.Notify(interruptSignalChannel, os.Interrupt)
	defer func() {
		signal.Stop(interruptSignalChannel)
		cancel()
	}()
	go func() {
		select {
		case <-interruptSignalChannel:
			log.Logger.Println("received SIGINT, disposing sessions")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run the command.
	if err := cmd.Execute(ctx); err != nil {
		log.Logger.Fatalf("Failed to execute crosconn command: %v", err)
	}
}
