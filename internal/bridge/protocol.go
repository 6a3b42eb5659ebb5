// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bridge exposes the proxy listener over TCP. The hosting proxy
// keeps one connection open and exchanges newline-delimited JSON: one
// Request per line in, one Response per line out, in order.
package bridge

import (
	"github.com/google/uuid"
)

// Request types.
const (
	TypeCommand    = "command"
	TypeDisconnect = "disconnect"
	TypeSwitch     = "switch"
	TypePing       = "ping"
)

// MaxLineBytes bounds a single request line.
const MaxLineBytes = 64 * 1024

// Request is a proxy event.
type Request struct {
	ID       string    `json:"id,omitempty"`
	Type     string    `json:"type"`
	PlayerID uuid.UUID `json:"player_id"`
	Username string    `json:"username,omitempty"`
	Address  string    `json:"address,omitempty"`
	Server   string    `json:"server,omitempty"`
	Target   string    `json:"target,omitempty"`
	Command  string    `json:"command,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID      string `json:"id,omitempty"`
	Forward bool   `json:"forward"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

const (
	errMissingPlayer protocolError = "player_id is required"
	errBadAddress    protocolError = "address must be an IP with optional port"
)
