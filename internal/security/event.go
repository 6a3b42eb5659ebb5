// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package security

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/authgate/internal/netaddr"
)

// Kind identifies a security incident.
type Kind string

// Incident kinds.
const (
	KindVerificationFailed Kind = "verification_failed"
	KindIdentityMismatch   Kind = "identity_mismatch"
	KindVerificationError  Kind = "verification_error"
	KindAddressMismatch    Kind = "address_mismatch"
)

// Event is one audited security incident. Events are ordered by ID.
type Event struct {
	ID         ulid.ULID
	Kind       Kind
	PlayerID   uuid.UUID
	Address    netaddr.Address
	Fields     map[string]string
	OccurredAt time.Time
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewEventID returns a ULID that sorts after every ID previously returned
// within the same millisecond.
func NewEventID(at time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}

// newEvent stamps an event with an ID and time.
func newEvent(kind Kind, playerID uuid.UUID, addr netaddr.Address, at time.Time, fields map[string]string) Event {
	return Event{
		ID:         NewEventID(at),
		Kind:       kind,
		PlayerID:   playerID,
		Address:    addr,
		Fields:     fields,
		OccurredAt: at,
	}
}
