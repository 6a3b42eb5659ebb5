// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bridge

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/proxy"
)

// Events is the proxy-facing surface. *proxy.Listener implements it.
type Events interface {
	OnCommand(ctx context.Context, conn proxy.Connection, raw string) proxy.Reply
	OnDisconnect(conn proxy.Connection)
	OnServerSwitch(conn proxy.Connection, target string) proxy.Reply
}

// Server accepts proxy connections.
type Server struct {
	addr     string
	events   Events
	logger   *slog.Logger
	tls      *cryptotls.Config
	mu       sync.RWMutex
	listener net.Listener
	conns    sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithTLS serves the bridge over TLS. Login and register commands carry
// passwords, so anything beyond loopback should use it.
func WithTLS(cfg *cryptotls.Config) Option {
	return func(s *Server) {
		s.tls = cfg
	}
}

// NewServer creates a bridge server.
func NewServer(addr string, events Events, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{addr: addr, events: events, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds the listen address. Run calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("BRIDGE_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	if s.tls != nil {
		listener = cryptotls.NewListener(listener, s.tls)
	}
	s.listener = listener
	return nil
}

// Run serves connections until ctx is cancelled, then waits for open
// connections to finish.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()

	s.logger.Info("bridge server started", "addr", listener.Addr().String(), "tls", s.tls != nil)

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()
	defer s.conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			newConnectionHandler(conn, s.events, s.logger).handle(ctx)
		}()
	}
}
