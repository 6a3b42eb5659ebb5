// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides test helpers for the auth package.
package authtest

import (
	"context"
	"strings"
	"sync"

	"github.com/holomush/authgate/internal/auth"
)

// MemoryStore is a PlayerStore backed by a map. Set the *Err fields to make
// the matching method fail.
type MemoryStore struct {
	mu      sync.Mutex
	players map[string]auth.Player

	FindErr   error
	CreateErr error
	SaveErr   error

	Saves int
}

// NewMemoryStore creates a store holding players.
func NewMemoryStore(players ...*auth.Player) *MemoryStore {
	s := &MemoryStore{players: make(map[string]auth.Player)}
	for _, p := range players {
		s.players[p.LowercaseNickname] = *p
	}
	return s
}

// FindByLowercaseName implements auth.PlayerStore.
func (s *MemoryStore) FindByLowercaseName(_ context.Context, name string) (*auth.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindErr != nil {
		return nil, s.FindErr
	}
	p, ok := s.players[strings.ToLower(name)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

// Create implements auth.PlayerStore.
func (s *MemoryStore) Create(_ context.Context, player *auth.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.players[player.LowercaseNickname]; ok {
		return auth.ErrAlreadyExists
	}
	s.players[player.LowercaseNickname] = *player
	return nil
}

// Save implements auth.PlayerStore.
func (s *MemoryStore) Save(_ context.Context, player *auth.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	if _, ok := s.players[player.LowercaseNickname]; !ok {
		return auth.ErrNotFound
	}
	s.players[player.LowercaseNickname] = *player
	s.Saves++
	return nil
}

// Get returns a copy of the stored player.
func (s *MemoryStore) Get(name string) (auth.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[strings.ToLower(name)]
	return p, ok
}

var _ auth.PlayerStore = (*MemoryStore)(nil)
