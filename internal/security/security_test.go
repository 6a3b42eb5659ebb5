// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package security_test

import (
	"context"
	"errors"
	"sync"

	"github.com/holomush/authgate/internal/security"
)

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []security.Event
	err    error
}

func (s *recordingSink) Emit(_ context.Context, event security.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []security.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]security.Event(nil), s.events...)
}

type panicSink struct{}

func (panicSink) Emit(context.Context, security.Event) error {
	panic("audit backend exploded")
}

var errSinkDown = errors.New("sink down")
