// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package log

import (
	"log"
	"strings"
	"sync"
)

// Writer is an io.Writer that forwards everything written to it to a logger,
// one log entry per line. Partial lines are buffered until a newline arrives
// so that subprocess output chunks do not get split mid-line.
type Writer struct {
	logger *log.Logger
	mu     sync.Mutex
	buf    strings.Builder
}

// NewWriter creates a Writer that logs written lines to the given logger.
func NewWriter(logger *log.Logger) *Writer {
	return &Writer{logger: logger}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.logger.Print(w.buf.String())
			w.buf.Reset()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.logger.Print(w.buf.String())
		w.buf.Reset()
	}
}
