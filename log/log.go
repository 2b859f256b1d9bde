// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package log provides prefixed loggers for crosconn and the subprocesses
// it manages.
package log

import (
	"log"
	"os"
)

// Logger is the default logger used for general crosconn output.
var Logger = NewLogger("crosconn: ")

// NewLogger creates a logger that writes to stderr with the given message
// prefix. Subprocess output is logged through loggers with per-command
// prefixes so interleaved output can be told apart.
func NewLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
}
