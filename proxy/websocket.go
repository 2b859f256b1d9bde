// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package proxy

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"chromiumos/platform/dev/contrib/crosconn/log"
)

// WebSocketProxy listens on an OS-assigned localhost port and bridges each
// inbound WebSocket connection to its own upstream TCP connection to the
// tunnel's forwarded port. Binary frames are relayed 1:1 in both directions;
// closing either end closes the other.
type WebSocketProxy struct {
	forwardPort int
	listener    net.Listener
	server      *http.Server
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	pairs    map[*websocket.Conn]net.Conn
	disposed bool
}

// NewWebSocketProxy starts a WebSocket server on an arbitrary free localhost
// port, relaying to the given forwarded port.
func NewWebSocketProxy(forwardPort int) (*WebSocketProxy, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("could not listen for websocket connections: %w", err)
	}
	p := &WebSocketProxy{
		forwardPort: forwardPort,
		listener:    listener,
		pairs:       make(map[*websocket.Conn]net.Conn),
		upgrader: websocket.Upgrader{
			// The UI surface is local; the Origin header carries the
			// sandbox's synthetic origin and is not meaningful here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	p.server = &http.Server{Handler: http.HandlerFunc(p.handle)}
	go func() {
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Logger.Printf("proxy: websocket server stopped: %v", err)
		}
	}()
	return p, nil
}

// ListenPort returns the port the WebSocket server is accepting on.
func (p *WebSocketProxy) ListenPort() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

func (p *WebSocketProxy) handle(w http.ResponseWriter, r *http.Request) {
	wsConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Logger.Printf("proxy: websocket upgrade failed: %v", err)
		return
	}
	upstream, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", p.forwardPort))
	if err != nil {
		log.Logger.Printf("proxy: could not connect to forwarded port %d: %v", p.forwardPort, err)
		wsConn.Close()
		return
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		upstream.Close()
		wsConn.Close()
		return
	}
	p.pairs[wsConn] = upstream
	p.mu.Unlock()

	go p.relayToUpstream(wsConn, upstream)
	go p.relayFromUpstream(wsConn, upstream)
}

// relayToUpstream copies WebSocket frames to the upstream TCP connection.
func (p *WebSocketProxy) relayToUpstream(wsConn *websocket.Conn, upstream net.Conn) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			p.closePair(wsConn, upstream)
			return
		}
		if _, err := upstream.Write(data); err != nil {
			log.Logger.Printf("proxy: upstream write failed: %v", err)
			p.closePair(wsConn, upstream)
			return
		}
	}
}

// relayFromUpstream copies upstream TCP data to the WebSocket as binary
// frames.
func (p *WebSocketProxy) relayFromUpstream(wsConn *websocket.Conn, upstream net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			if err := wsConn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				p.closePair(wsConn, upstream)
				return
			}
		}
		if err != nil {
			p.closePair(wsConn, upstream)
			return
		}
	}
}

func (p *WebSocketProxy) closePair(wsConn *websocket.Conn, upstream net.Conn) {
	p.mu.Lock()
	delete(p.pairs, wsConn)
	p.mu.Unlock()
	wsConn.Close()
	upstream.Close()
}

// Dispose shuts down the WebSocket server and destroys all connection
// pairs.
func (p *WebSocketProxy) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	pairs := make(map[*websocket.Conn]net.Conn, len(p.pairs))
	for wsConn, upstream := range p.pairs {
		pairs[wsConn] = upstream
	}
	p.pairs = make(map[*websocket.Conn]net.Conn)
	p.mu.Unlock()

	p.server.Close()
	for wsConn, upstream := range pairs {
		wsConn.Close()
		upstream.Close()
	}
}

// Close implements io.Closer so a session can own the proxy as a disposable.
func (p *WebSocketProxy) Close() error {
	p.Dispose()
	return nil
}
