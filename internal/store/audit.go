// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
)

// DefaultAuditListLimit caps ListByPlayer when no limit is given.
const DefaultAuditListLimit = 50

// AuditSink persists security events to the security_audit table.
type AuditSink struct {
	pool poolIface
}

// NewAuditSink creates an AuditSink on pool.
func NewAuditSink(pool poolIface) *AuditSink {
	return &AuditSink{pool: pool}
}

// Emit inserts the event. Re-emitting an event with the same ID is a no-op.
func (s *AuditSink) Emit(ctx context.Context, event security.Event) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").With("event_id", event.ID.String()).Wrap(err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_audit (id, kind, player_id, address, fields, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID.String(),
		string(event.Kind),
		event.PlayerID.String(),
		event.Address.String(),
		encoded,
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").
			With("event_id", event.ID.String()).
			With("kind", string(event.Kind)).
			Wrap(err)
	}
	return nil
}

// ListByPlayer returns the player's most recent events, newest first.
func (s *AuditSink) ListByPlayer(ctx context.Context, playerID uuid.UUID, limit int) ([]security.Event, error) {
	if limit <= 0 {
		limit = DefaultAuditListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, player_id::text, address, fields, occurred_at
		FROM security_audit
		WHERE player_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, playerID.String(), limit)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("player_id", playerID.String()).Wrap(err)
	}
	defer rows.Close()

	var events []security.Event
	for rows.Next() {
		var (
			id, kind, player, address string
			fields                    []byte
			occurredAt                time.Time
		)
		if err := rows.Scan(&id, &kind, &player, &address, &fields, &occurredAt); err != nil {
			return nil, oops.Code("AUDIT_SCAN_FAILED").Wrap(err)
		}
		event, err := decodeEvent(id, kind, player, address, fields, occurredAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("player_id", playerID.String()).Wrap(err)
	}
	return events, nil
}

func decodeEvent(id, kind, player, address string, fields []byte, occurredAt time.Time) (security.Event, error) {
	eventID, err := ulid.Parse(id)
	if err != nil {
		return security.Event{}, oops.Code("AUDIT_DECODE_FAILED").With("column", "id").With("value", id).Wrap(err)
	}
	playerID, err := uuid.Parse(player)
	if err != nil {
		return security.Event{}, oops.Code("AUDIT_DECODE_FAILED").With("column", "player_id").With("value", player).Wrap(err)
	}
	addr, err := netaddr.Parse(address)
	if err != nil {
		return security.Event{}, oops.Code("AUDIT_DECODE_FAILED").With("column", "address").With("value", address).Wrap(err)
	}
	var decoded map[string]string
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &decoded); err != nil {
			return security.Event{}, oops.Code("AUDIT_DECODE_FAILED").With("column", "fields").Wrap(err)
		}
	}
	return security.Event{
		ID:         eventID,
		Kind:       security.Kind(kind),
		PlayerID:   playerID,
		Address:    addr,
		Fields:     decoded,
		OccurredAt: occurredAt,
	}, nil
}

var _ security.Sink = (*AuditSink)(nil)
