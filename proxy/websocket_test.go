// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package proxy

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketProxyListenPort(t *testing.T) {
	port, _ := startEchoListener(t)
	p, err := NewWebSocketProxy(port)
	if err != nil {
		t.Fatalf("NewWebSocketProxy failed: %v", err)
	}
	defer p.Dispose()

	if p.ListenPort() == 0 {
		t.Fatal("ListenPort returned 0")
	}
	wsConn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", p.ListenPort()), nil)
	if err != nil {
		t.Fatalf("could not connect to websocket proxy: %v", err)
	}
	wsConn.Close()
}

func TestWebSocketProxyRelay(t *testing.T) {
	port, _ := startEchoListener(t)
	p, err := NewWebSocketProxy(port)
	if err != nil {
		t.Fatalf("NewWebSocketProxy failed: %v", err)
	}
	defer p.Dispose()

	wsConn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", p.ListenPort()), nil)
	if err != nil {
		t.Fatalf("could not connect to websocket proxy: %v", err)
	}
	defer wsConn.Close()

	payload := []byte{0x52, 0x46, 0x42, 0x00}
	if err := wsConn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("could not write websocket frame: %v", err)
	}
	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := wsConn.ReadMessage()
	if err != nil {
		t.Fatalf("could not read echoed frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("echoed frame type = %d, want binary", msgType)
	}
	if string(data) != string(payload) {
		t.Errorf("echoed frame = %v, want %v", data, payload)
	}
}

func TestWebSocketProxyUpstreamCloseClosesClient(t *testing.T) {
	port, conns := startEchoListener(t)
	p, err := NewWebSocketProxy(port)
	if err != nil {
		t.Fatalf("NewWebSocketProxy failed: %v", err)
	}
	defer p.Dispose()

	wsConn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", p.ListenPort()), nil)
	if err != nil {
		t.Fatalf("could not connect to websocket proxy: %v", err)
	}
	defer wsConn.Close()
	upstream := <-conns
	upstream.Close()

	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wsConn.ReadMessage(); err == nil {
		t.Error("websocket connection still open after upstream close")
	}
}

func TestWebSocketProxyDispose(t *testing.T) {
	port, _ := startEchoListener(t)
	p, err := NewWebSocketProxy(port)
	if err != nil {
		t.Fatalf("NewWebSocketProxy failed: %v", err)
	}
	wsConn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", p.ListenPort()), nil)
	if err != nil {
		t.Fatalf("could not connect to websocket proxy: %v", err)
	}
	defer wsConn.Close()

	p.Dispose()
	p.Dispose() // idempotent

	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wsConn.ReadMessage(); err == nil {
		t.Error("websocket connection still open after proxy disposal")
	}
	if _, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", p.ListenPort()), nil); err == nil {
		t.Error("websocket server still accepting after proxy disposal")
	}
}
