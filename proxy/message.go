// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package proxy bridges a tunnel's local TCP endpoint to a sandboxed UI
// surface that cannot open raw sockets itself. Two interchangeable
// implementations are provided: WebSocketProxy for hosts where the UI can
// reach a local WebSocket server, and MessagePassingProxy for hosts where
// the only path to the UI is a structured message channel.
package proxy

import "encoding/json"

// Message kinds and subtypes of the UI message wire format.
const (
	TypeSocket = "socket"
	TypeEvent  = "event"

	SubtypeOpen  = "open"
	SubtypeClose = "close"
	SubtypeData  = "data"
	SubtypeError = "error"
	SubtypeReady = "ready"
)

// Message is one structured message exchanged with the UI surface. Socket
// messages carry a caller-assigned socket id; data payloads are base64
// encoded strings.
type Message struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	SocketID int    `json:"socketId,omitempty"`
	Data     string `json:"data,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// MessageChannel is the sending half of a UI surface: anything that can
// deliver a structured message to the sandboxed UI. Inbound messages are
// delivered by the host calling MessagePassingProxy.HandleMessage.
type MessageChannel interface {
	PostMessage(m Message) error
}

// ReadyMessage is the event posted to the UI once a session's tunnel is
// accepting connections.
func ReadyMessage() Message {
	return Message{Type: TypeEvent, Subtype: SubtypeReady}
}

// ParseMessage decodes a JSON-encoded wire message.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
