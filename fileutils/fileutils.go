// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fileutils defines generic file utilities.
package fileutils

import (
	"context"
	"io"
)

type readResult struct {
	data []byte
	err  error
}

// ContextReader wraps an io.Reader so that blocked reads can be interrupted
// by cancelling a context. Used to stop interactive prompts reading stdin
// when the surrounding operation is cancelled.
//
// Reads happen on a background goroutine into an internal buffer, never into
// the caller's buffer, so a read abandoned by cancellation cannot touch
// caller memory. If a read completes after the caller gave up, its data is
// held and returned by the next Read. Read is not safe for concurrent use.
type ContextReader struct {
	ctx     context.Context
	reader  io.Reader
	results chan readResult
	// inflight reports whether a background read is pending on results.
	inflight bool
	leftover readResult
}

// NewContextReader wraps reader with cancellation from ctx.
func NewContextReader(ctx context.Context, reader io.Reader) *ContextReader {
	return &ContextReader{
		ctx:     ctx,
		reader:  reader,
		results: make(chan readResult, 1),
	}
}

// Read reads from the wrapped reader, returning the context's error if the
// context is cancelled before the read completes. The underlying read is
// not aborted; its goroutine ends when the reader itself unblocks.
func (c *ContextReader) Read(p []byte) (int, error) {
	if len(c.leftover.data) > 0 || c.leftover.err != nil {
		return c.consume(p, c.leftover)
	}
	if !c.inflight {
		c.inflight = true
		buf := make([]byte, len(p))
		go func() {
			n, err := c.reader.Read(buf)
			c.results <- readResult{data: buf[:n], err: err}
		}()
	} else {
		// A read abandoned by an earlier cancellation may have completed
		// since; deliver its data before consulting the context again.
		select {
		case res := <-c.results:
			c.inflight = false
			return c.consume(p, res)
		default:
		}
	}
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	case res := <-c.results:
		c.inflight = false
		return c.consume(p, res)
	}
}

// consume copies as much of res as fits into p and stores the rest, along
// with any read error, to be returned by later calls.
func (c *ContextReader) consume(p []byte, res readResult) (int, error) {
	n := copy(p, res.data)
	c.leftover = readResult{data: res.data[n:], err: res.err}
	if len(c.leftover.data) > 0 {
		return n, nil
	}
	err := c.leftover.err
	c.leftover.err = nil
	return n, err
}
