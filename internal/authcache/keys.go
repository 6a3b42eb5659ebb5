// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authcache

import (
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/netaddr"
)

// KeyFunc derives the brute-force counter keys for a login attempt. Every
// returned key is counted, so a function returning two keys locks out on
// whichever scope crosses the threshold first.
type KeyFunc func(playerID uuid.UUID, addr netaddr.Address) []string

// Brute-force scope names accepted by KeyFuncByName.
const (
	ScopePlayer  = "player"
	ScopeAddress = "address"
	ScopeBoth    = "both"
)

// KeyByPlayer counts failures per player identity.
func KeyByPlayer(playerID uuid.UUID, _ netaddr.Address) []string {
	return []string{"player:" + playerID.String()}
}

// KeyByAddress counts failures per source IP.
func KeyByAddress(_ uuid.UUID, addr netaddr.Address) []string {
	return []string{"addr:" + addr.Host()}
}

// KeyByPlayerAndAddress counts failures per identity and per source IP.
func KeyByPlayerAndAddress(playerID uuid.UUID, addr netaddr.Address) []string {
	return []string{"player:" + playerID.String(), "addr:" + addr.Host()}
}

// KeyFuncByName resolves a configured scope name.
func KeyFuncByName(name string) (KeyFunc, error) {
	switch name {
	case ScopePlayer:
		return KeyByPlayer, nil
	case ScopeAddress, "":
		return KeyByAddress, nil
	case ScopeBoth:
		return KeyByPlayerAndAddress, nil
	default:
		return nil, oops.Code("AUTHCACHE_INVALID_SCOPE").
			With("scope", name).
			Errorf("unknown brute-force scope %q (want %s, %s or %s)", name, ScopePlayer, ScopeAddress, ScopeBoth)
	}
}
