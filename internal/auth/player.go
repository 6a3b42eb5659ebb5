// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 16
)

// usernameRegex matches game nicknames: letters, digits and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Player is a registered account.
type Player struct {
	Nickname          string
	LowercaseNickname string
	Hash              string // empty for premium accounts
	IP                string // registration address
	LoginIP           string
	UUID              uuid.UUID
	PremiumUUID       uuid.UUID // uuid.Nil unless premium
	RegisteredAt      time.Time
	LastLoginAt       time.Time
}

// NewPlayer creates a Player registered from addr at now.
func NewPlayer(nickname, hash string, id uuid.UUID, addr netaddr.Address, now time.Time) (*Player, error) {
	if err := ValidateUsername(nickname); err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, oops.Code("PLAYER_INVALID").
			With("nickname", nickname).
			Errorf("player uuid cannot be nil")
	}

	return &Player{
		Nickname:          nickname,
		LowercaseNickname: strings.ToLower(nickname),
		Hash:              hash,
		IP:                addr.Host(),
		LoginIP:           addr.Host(),
		UUID:              id,
		RegisteredAt:      now,
		LastLoginAt:       now,
	}, nil
}

// IsPremium reports whether the account authenticates without a password.
func (p *Player) IsPremium() bool {
	return p.Hash == ""
}

// MatchesIdentity reports whether a connection claiming id may use this
// account: id must equal the stored UUID or, when set, the premium UUID.
func (p *Player) MatchesIdentity(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	return id == p.UUID || (p.PremiumUUID != uuid.Nil && id == p.PremiumUUID)
}

// RecordLogin stores the address and time of a successful login.
func (p *Player) RecordLogin(addr netaddr.Address, now time.Time) {
	p.LoginIP = addr.Host()
	p.LastLoginAt = now
}

// Identity returns the stored identity for audit events.
func (p *Player) Identity() security.Identity {
	return security.Identity{
		UUID:        p.UUID,
		PremiumUUID: p.PremiumUUID,
		Nickname:    p.Nickname,
	}
}

// ValidateUsername validates a nickname against rules.
// Nickname requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must contain only letters, numbers, and underscores")
	}
	return nil
}

// PlayerStore manages player persistence.
type PlayerStore interface {
	// FindByLowercaseName retrieves a player by lowercase nickname.
	// Returns ErrNotFound if no player has that nickname.
	FindByLowercaseName(ctx context.Context, name string) (*Player, error)

	// Create stores a new player. Returns ErrAlreadyExists if the
	// nickname is taken.
	Create(ctx context.Context, player *Player) error

	// Save updates an existing player.
	Save(ctx context.Context, player *Player) error
}
