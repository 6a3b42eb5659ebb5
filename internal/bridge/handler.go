// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/proxy"
)

// connectionHandler serves one proxy connection. Players seen on it are
// disconnected when it closes, since their proxy is gone.
type connectionHandler struct {
	conn    net.Conn
	events  Events
	logger  *slog.Logger
	enc     *json.Encoder
	players map[uuid.UUID]proxy.Connection
}

func newConnectionHandler(conn net.Conn, events Events, logger *slog.Logger) *connectionHandler {
	return &connectionHandler{
		conn:    conn,
		events:  events,
		logger:  logger.With("remote", conn.RemoteAddr().String()),
		enc:     json.NewEncoder(conn),
		players: make(map[uuid.UUID]proxy.Connection),
	}
}

func (h *connectionHandler) handle(ctx context.Context) {
	defer func() {
		for _, pc := range h.players {
			h.events.OnDisconnect(pc)
		}
		if err := h.conn.Close(); err != nil {
			h.logger.Debug("error closing connection", "error", err)
		}
	}()

	lineCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		defer close(lineCh)
		scanner := bufio.NewScanner(h.conn)
		scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lineCh <- line:
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lineCh:
			if !ok {
				if err := <-errCh; err != nil {
					h.logger.Debug("connection read error", "error", err)
				}
				return
			}
			if len(line) == 0 {
				continue
			}
			h.send(h.process(ctx, line))
		}
	}
}

func (h *connectionHandler) process(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: "malformed request"}
	}
	if req.Type == TypePing {
		return Response{ID: req.ID}
	}

	pc, err := h.connection(req)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}

	switch req.Type {
	case TypeCommand:
		h.players[pc.PlayerID] = pc
		reply := h.events.OnCommand(ctx, pc, req.Command)
		return Response{ID: req.ID, Forward: reply.Forward, Message: reply.Message}
	case TypeSwitch:
		reply := h.events.OnServerSwitch(pc, req.Target)
		pc.Server = req.Target
		h.players[pc.PlayerID] = pc
		return Response{ID: req.ID, Forward: reply.Forward, Message: reply.Message}
	case TypeDisconnect:
		delete(h.players, pc.PlayerID)
		h.events.OnDisconnect(pc)
		return Response{ID: req.ID}
	default:
		return Response{ID: req.ID, Error: "unknown request type " + req.Type}
	}
}

func (h *connectionHandler) connection(req Request) (proxy.Connection, error) {
	if req.PlayerID == uuid.Nil {
		return proxy.Connection{}, errMissingPlayer
	}
	addr, err := netaddr.Parse(req.Address)
	if err != nil {
		return proxy.Connection{}, errBadAddress
	}
	return proxy.Connection{
		PlayerID: req.PlayerID,
		Username: req.Username,
		Address:  addr,
		Server:   req.Server,
	}, nil
}

func (h *connectionHandler) send(resp Response) {
	if err := h.enc.Encode(resp); err != nil {
		h.logger.Debug("failed to send response", "id", resp.ID, "error", err)
	}
}
