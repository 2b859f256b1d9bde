// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package proxy

import (
	"encoding/base64"
	"net"
	"sync"
	"testing"
	"time"
)

// recordingChannel collects messages posted to the UI surface.
type recordingChannel struct {
	mu       sync.Mutex
	messages []Message
}

func (c *recordingChannel) PostMessage(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return nil
}

func (c *recordingChannel) waitFor(t *testing.T, match func(Message) bool) Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, m := range c.messages {
			if match(m) {
				c.mu.Unlock()
				return m
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for expected message")
	return Message{}
}

// startEchoListener accepts connections on an ephemeral port and echoes all
// received data, sending accepted connections to the returned channel.
func startEchoListener(t *testing.T) (int, <-chan net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not start listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conns <- conn
			go func(c net.Conn) {
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port, conns
}

func TestMessagePassingOpenClose(t *testing.T) {
	port, conns := startEchoListener(t)
	channel := &recordingChannel{}
	p := NewMessagePassingProxy(channel, port)
	defer p.Dispose()

	p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: 7})
	channel.waitFor(t, func(m Message) bool {
		return m.Subtype == SubtypeOpen && m.SocketID == 7
	})
	if got := p.openSocketCount(); got != 1 {
		t.Fatalf("open socket count = %d, want 1", got)
	}
	upstream := <-conns

	p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeClose, SocketID: 7})
	if got := p.openSocketCount(); got != 0 {
		t.Errorf("open socket count after close = %d, want 0", got)
	}
	// The upstream end observes the close.
	upstream.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := upstream.Read(buf); err == nil {
		t.Error("upstream connection still open after close message")
	}
}

func TestMessagePassingDataRoundTrip(t *testing.T) {
	port, _ := startEchoListener(t)
	channel := &recordingChannel{}
	p := NewMessagePassingProxy(channel, port)
	defer p.Dispose()

	p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: 3})
	channel.waitFor(t, func(m Message) bool {
		return m.Subtype == SubtypeOpen && m.SocketID == 3
	})

	payload := []byte("RFB 003.008\n")
	p.HandleMessage(Message{
		Type:     TypeSocket,
		Subtype:  SubtypeData,
		SocketID: 3,
		Data:     base64.StdEncoding.EncodeToString(payload),
	})

	// The echo listener sends the payload back, which must surface as an
	// outbound data message with the same socket id.
	m := channel.waitFor(t, func(m Message) bool {
		return m.Subtype == SubtypeData && m.SocketID == 3
	})
	decoded, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		t.Fatalf("outbound data message is not valid base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("echoed data = %q, want %q", decoded, payload)
	}
}

func TestMessagePassingOpenFailure(t *testing.T) {
	// Nothing is listening on this port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not start listener: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	channel := &recordingChannel{}
	p := NewMessagePassingProxy(channel, port)
	defer p.Dispose()

	p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: 1})
	m := channel.waitFor(t, func(m Message) bool {
		return m.Subtype == SubtypeError && m.SocketID == 1
	})
	if m.Reason == "" {
		t.Error("error message has no reason")
	}
	if got := p.openSocketCount(); got != 0 {
		t.Errorf("open socket count after failed open = %d, want 0", got)
	}
}

func TestMessagePassingDispose(t *testing.T) {
	port, _ := startEchoListener(t)
	channel := &recordingChannel{}
	p := NewMessagePassingProxy(channel, port)

	for id := 1; id <= 3; id++ {
		p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: id})
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.openSocketCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.openSocketCount(); got != 3 {
		t.Fatalf("open socket count = %d, want 3", got)
	}

	p.Dispose()
	if got := p.openSocketCount(); got != 0 {
		t.Errorf("open socket count after dispose = %d, want 0", got)
	}
	// Disposal is idempotent and messages after disposal are ignored.
	p.Dispose()
	p.HandleMessage(Message{Type: TypeSocket, Subtype: SubtypeOpen, SocketID: 9})
	time.Sleep(50 * time.Millisecond)
	if got := p.openSocketCount(); got != 0 {
		t.Errorf("open socket count after post-dispose open = %d, want 0", got)
	}
}
