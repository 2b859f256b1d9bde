// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"sync"

	"chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/portutil"
)

// Key identifies a session slot in a Registry.
type Key struct {
	Hostname string
	Protocol Protocol
}

// Registry tracks at most one session per (hostname, protocol). It is an
// explicit object handed to command handlers rather than module-level
// state; sessions remove themselves from the registry on disposal.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Key]*Session)}
}

// Lookup returns the registered session for the key, if any.
func (r *Registry) Lookup(hostname string, protocol Protocol) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[Key{Hostname: hostname, Protocol: protocol}]
	return s, ok
}

// Add registers a session under its (hostname, protocol) key if the slot is
// free, and reports whether it was added. The session is removed from the
// registry automatically when it is disposed.
func (r *Registry) Add(s *Session) bool {
	key := Key{Hostname: s.Hostname(), Protocol: s.Protocol()}
	r.mu.Lock()
	if _, exists := r.sessions[key]; exists {
		r.mu.Unlock()
		return false
	}
	r.sessions[key] = s
	r.mu.Unlock()
	s.OnDidDispose(func() {
		r.remove(key, s)
	})
	return true
}

func (r *Registry) remove(key Key, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Only remove the session that registered the observer; the slot may
	// already hold a successor.
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// GetOrCreate returns a live registered session for the key, or creates,
// starts and registers a new one. An existing session is reused only if its
// forwarded port still accepts connections; a stale session is disposed
// first. The returned bool reports whether an existing session was reused.
func (r *Registry) GetOrCreate(ctx context.Context, hostname string, protocol Protocol, create func() *Session) (*Session, bool, error) {
	if existing, ok := r.Lookup(hostname, protocol); ok {
		if portutil.ProbePort(ctx, existing.ForwardPort()) {
			return existing, true, nil
		}
		log.Logger.Printf("session %s/%s: forwarded port %d no longer accepting, replacing session",
			hostname, protocol, existing.ForwardPort())
		existing.Dispose()
	}

	s := create()
	result, err := s.Start(ctx)
	switch result {
	case ResultReady:
		if !r.Add(s) {
			// A concurrent caller registered a session for the same key
			// while ours was starting. Keep the registered one so it
			// stays reachable from DisposeAll.
			s.Dispose()
			if winner, ok := r.Lookup(hostname, protocol); ok {
				return winner, true, nil
			}
			return nil, false, fmt.Errorf("session %s/%s: lost creation race and successor already disposed", hostname, protocol)
		}
		return s, false, nil
	case ResultCancelled:
		s.Dispose()
		return nil, false, err
	default:
		s.Dispose()
		return nil, false, err
	}
}

// DisposeAll disposes every registered session.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Dispose()
	}
}
