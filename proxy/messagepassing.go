// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package proxy

import (
	"encoding/base64"
	"fmt"
	"net"
	"sync"

	"chromiumos/platform/dev/contrib/crosconn/log"
)

// MessagePassingProxy relays between upstream TCP connections and a UI
// message channel. The UI assigns each logical socket a numeric id and
// drives the proxy with open/data/close messages; upstream socket events
// are translated back into outbound messages with the same id.
//
// Every upstream connection is removed from the socket map and destroyed
// when its close message arrives or when the proxy is disposed.
type MessagePassingProxy struct {
	channel     MessageChannel
	forwardPort int

	mu       sync.Mutex
	sockets  map[int]net.Conn
	disposed bool
}

// NewMessagePassingProxy creates a proxy that opens upstream connections to
// the given localhost port and exchanges socket messages over channel.
func NewMessagePassingProxy(channel MessageChannel, forwardPort int) *MessagePassingProxy {
	return &MessagePassingProxy{
		channel:     channel,
		forwardPort: forwardPort,
		sockets:     make(map[int]net.Conn),
	}
}

// HandleMessage processes one inbound message from the UI surface.
// Non-socket messages are ignored.
func (p *MessagePassingProxy) HandleMessage(m Message) {
	if m.Type != TypeSocket {
		return
	}
	switch m.Subtype {
	case SubtypeOpen:
		p.handleOpen(m.SocketID)
	case SubtypeData:
		p.handleData(m.SocketID, m.Data)
	case SubtypeClose:
		p.handleClose(m.SocketID)
	default:
		log.Logger.Printf("proxy: ignoring socket message with subtype %q", m.Subtype)
	}
}

func (p *MessagePassingProxy) handleOpen(socketID int) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", p.forwardPort))
	if err != nil {
		p.post(Message{Type: TypeSocket, Subtype: SubtypeError, SocketID: socketID, Reason: err.Error()})
		return
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	if old, ok := p.sockets[socketID]; ok {
		// The UI reassigned a live id; drop the stale connection.
		old.Close()
	}
	p.sockets[socketID] = conn
	p.mu.Unlock()

	p.post(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: socketID})
	go p.readUpstream(socketID, conn)
}

func (p *MessagePassingProxy) handleData(socketID int, data string) {
	p.mu.Lock()
	conn, ok := p.sockets[socketID]
	p.mu.Unlock()
	if !ok {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		log.Logger.Printf("proxy: bad data payload for socket %d: %v", socketID, err)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		log.Logger.Printf("proxy: write to socket %d failed: %v", socketID, err)
	}
}

func (p *MessagePassingProxy) handleClose(socketID int) {
	p.mu.Lock()
	conn, ok := p.sockets[socketID]
	delete(p.sockets, socketID)
	p.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// readUpstream relays upstream data and termination events back to the UI
// until the connection closes.
func (p *MessagePassingProxy) readUpstream(socketID int, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			p.post(Message{
				Type:     TypeSocket,
				Subtype:  SubtypeData,
				SocketID: socketID,
				Data:     base64.StdEncoding.EncodeToString(buf[:n]),
			})
		}
		if err != nil {
			p.mu.Lock()
			_, live := p.sockets[socketID]
			delete(p.sockets, socketID)
			disposed := p.disposed
			p.mu.Unlock()
			conn.Close()
			// Only report termination for sockets the UI still thinks are
			// open; a close message or disposal already settled the rest.
			if live && !disposed {
				p.post(Message{Type: TypeSocket, Subtype: SubtypeClose, SocketID: socketID, Reason: err.Error()})
			}
			return
		}
	}
}

func (p *MessagePassingProxy) post(m Message) {
	if err := p.channel.PostMessage(m); err != nil {
		log.Logger.Printf("proxy: could not post %s/%s message: %v", m.Type, m.Subtype, err)
	}
}

// Dispose destroys all upstream connections. No dangling sockets remain
// afterwards; inbound messages after disposal are ignored.
func (p *MessagePassingProxy) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	conns := make([]net.Conn, 0, len(p.sockets))
	for _, conn := range p.sockets {
		conns = append(conns, conn)
	}
	p.sockets = make(map[int]net.Conn)
	p.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// Close implements io.Closer so a session can own the proxy as a disposable.
func (p *MessagePassingProxy) Close() error {
	p.Dispose()
	return nil
}

// openSocketCount reports the number of live upstream connections.
func (p *MessagePassingProxy) openSocketCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets)
}
