// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package session manages the lifecycle of tunnel sessions to remote
// devices: one cancellable, disposable unit per active connection, owning
// the forwarded port, the tunnel process and any attached proxy resources.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"chromiumos/platform/dev/contrib/crosconn/log"
	"chromiumos/platform/dev/contrib/crosconn/portutil"
	"chromiumos/platform/dev/contrib/crosconn/proxy"
)

// Protocol identifies what a session's tunnel is forwarding to.
type Protocol string

const (
	ProtocolSSH Protocol = "ssh"
	ProtocolVNC Protocol = "vnc"
)

// State is a session's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateReady
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	case StateDisposed:
		return "DISPOSED"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// Result is the tagged outcome of starting a session: exactly one of ready,
// failed or cancelled is observed, whichever settles first.
type Result int

const (
	ResultReady Result = iota
	ResultFailed
	ResultCancelled
)

// TunnelFunc runs a tunnel process forwarding localPort until the context
// is cancelled. It returns nil on a cancellation-driven shutdown and an
// error if the process died on its own; it never returns while the tunnel
// is healthy.
type TunnelFunc func(ctx context.Context, localPort int) error

// Session is one active tunnel to a remote device. At most one session per
// (hostname, protocol) is kept in a Registry. Disposal is idempotent,
// cancels the tunnel before releasing resources, and fires the disposal
// observers exactly once.
type Session struct {
	hostname string
	protocol Protocol
	tunnel   TunnelFunc

	forwardPort int
	cancel      context.CancelFunc
	done        chan struct{}
	disposeOnce sync.Once

	mu          sync.Mutex
	state       State
	surface     proxy.MessageChannel
	disposables []io.Closer
	observers   []func()
}

// New creates a session in the Created state. Start must be called to
// allocate a port and open the tunnel.
func New(hostname string, protocol Protocol, tunnel TunnelFunc) *Session {
	return &Session{
		hostname: hostname,
		protocol: protocol,
		tunnel:   tunnel,
		state:    StateCreated,
		done:     make(chan struct{}),
	}
}

// Hostname returns the remote host this session connects to.
func (s *Session) Hostname() string { return s.hostname }

// Protocol returns the session's protocol.
func (s *Session) Protocol() Protocol { return s.protocol }

// ForwardPort returns the allocated local forwarding port, or 0 before
// Start.
func (s *Session) ForwardPort() int { return s.forwardPort }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the session is disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetSurface attaches the UI message channel notified when the session
// becomes ready.
func (s *Session) SetSurface(surface proxy.MessageChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = surface
}

// Start allocates a local port, launches the tunnel and waits for the
// forwarded port to accept connections, racing readiness against tunnel
// death. On ResultReady the attached surface (if any) has been notified and
// the tunnel keeps running in the background until disposal or death. On
// ResultFailed the returned error is the tunnel's; the session is unusable
// and should be disposed. ResultCancelled is returned when ctx settles
// first and is not an error condition.
func (s *Session) Start(ctx context.Context) (Result, error) {
	port, err := portutil.FindUnusedPort()
	if err != nil {
		s.setState(StateFailed)
		return ResultFailed, err
	}
	s.forwardPort = port

	tunnelCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState(StateStarting)

	tunnelChan := make(chan error, 1)
	go func() {
		tunnelChan <- s.tunnel(tunnelCtx, port)
	}()
	readyChan := make(chan error, 1)
	go func() {
		readyChan <- portutil.PollReady(tunnelCtx, port)
	}()

	select {
	case err := <-tunnelChan:
		if ctxErr := tunnelCtx.Err(); ctxErr != nil {
			s.Dispose()
			return ResultCancelled, ctxErr
		}
		if err == nil {
			s.Dispose()
			return ResultCancelled, context.Canceled
		}
		// The tunnel died before becoming ready. Stop the poller; the
		// session is unusable and the caller is expected to dispose it.
		cancel()
		s.setState(StateFailed)
		return ResultFailed, err
	case err := <-readyChan:
		if err != nil {
			// Cancelled while polling.
			s.Dispose()
			return ResultCancelled, err
		}
		s.setState(StateReady)
		s.notifyReady()
		go s.watchTunnel(tunnelChan)
		return ResultReady, nil
	}
}

// watchTunnel waits for a ready session's tunnel process to end and then
// disposes the session. An unexpected death after readiness is logged once.
func (s *Session) watchTunnel(tunnelChan <-chan error) {
	if err := <-tunnelChan; err != nil {
		log.Logger.Printf("session %s/%s: %v", s.hostname, s.protocol, err)
	}
	s.Dispose()
}

func (s *Session) notifyReady() {
	s.mu.Lock()
	surface := s.surface
	s.mu.Unlock()
	if surface == nil {
		return
	}
	if err := surface.PostMessage(proxy.ReadyMessage()); err != nil {
		log.Logger.Printf("session %s/%s: could not notify surface: %v", s.hostname, s.protocol, err)
	}
}

// AddDisposable registers a resource to be closed when the session is
// disposed. Resources are closed in reverse registration order. If the
// session is already disposed the resource is closed immediately.
func (s *Session) AddDisposable(c io.Closer) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.disposables = append(s.disposables, c)
	s.mu.Unlock()
}

// OnDidDispose registers an observer called when the session is disposed.
// An observer registered after disposal is called immediately.
func (s *Session) OnDidDispose(f func()) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		f()
		return
	}
	s.observers = append(s.observers, f)
	s.mu.Unlock()
}

// Dispose cancels the tunnel, releases owned resources in reverse
// registration order and fires the disposal observers. Calling Dispose more
// than once has no additional effect; the observers fire exactly once,
// after the resources are released.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		disposables := s.disposables
		observers := s.observers
		s.disposables = nil
		s.observers = nil
		s.state = StateDisposed
		s.mu.Unlock()

		for i := len(disposables) - 1; i >= 0; i-- {
			if err := disposables[i].Close(); err != nil {
				log.Logger.Printf("session %s/%s: error releasing resource: %v", s.hostname, s.protocol, err)
			}
		}
		for _, f := range observers {
			f()
		}
		close(s.done)
	})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return
	}
	s.state = state
}
