// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/pkg/errutil"
)

var auditColumns = []string{"id", "kind", "player_id", "address", "fields", "occurred_at"}

func sampleAuditEvent() security.Event {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return security.Event{
		ID:         security.NewEventID(at),
		Kind:       security.KindVerificationError,
		PlayerID:   uuid.MustParse("6f1c2d1e-8a4b-4c3d-9e2f-0a1b2c3d4e5f"),
		Address:    netaddr.MustParse("192.0.2.44:25565"),
		Fields:     map[string]string{"cause": "timeout", "code": "AUTH_LOGIN_FAILED"},
		OccurredAt: at,
	}
}

func TestAuditSink_Emit(t *testing.T) {
	event := sampleAuditEvent()

	tests := []struct {
		name      string
		event     security.Event
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name:  "inserts event",
			event: event,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO security_audit`).
					WithArgs(event.ID.String(), "verification_error", event.PlayerID.String(), "192.0.2.44:25565",
						[]byte(`{"cause":"timeout","code":"AUTH_LOGIN_FAILED"}`), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "nil fields stored as empty object",
			event: func() security.Event {
				e := event
				e.Fields = nil
				return e
			}(),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO security_audit`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						[]byte(`{}`), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name:  "database error",
			event: event,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO security_audit`).
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "AUDIT_INSERT_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			err = NewAuditSink(mock).Emit(context.Background(), tt.event)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAuditSink_ListByPlayer(t *testing.T) {
	event := sampleAuditEvent()

	t.Run("decodes rows", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT id, kind, player_id::text, address, fields, occurred_at`).
			WithArgs(event.PlayerID.String(), 10).
			WillReturnRows(pgxmock.NewRows(auditColumns).
				AddRow(event.ID.String(), "verification_error", event.PlayerID.String(), "192.0.2.44:25565",
					[]byte(`{"cause":"timeout","code":"AUTH_LOGIN_FAILED"}`), event.OccurredAt))

		events, err := NewAuditSink(mock).ListByPlayer(context.Background(), event.PlayerID, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event, events[0])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("default limit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM security_audit`).
			WithArgs(event.PlayerID.String(), DefaultAuditListLimit).
			WillReturnRows(pgxmock.NewRows(auditColumns))

		events, err := NewAuditSink(mock).ListByPlayer(context.Background(), event.PlayerID, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM security_audit`).WillReturnError(errors.New("timeout"))

		_, err = NewAuditSink(mock).ListByPlayer(context.Background(), event.PlayerID, 5)
		errutil.AssertErrorCode(t, err, "AUDIT_QUERY_FAILED")
	})

	t.Run("corrupt row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM security_audit`).
			WillReturnRows(pgxmock.NewRows(auditColumns).
				AddRow("not-a-ulid", "verification_error", event.PlayerID.String(), "192.0.2.44:25565", []byte(`{}`), event.OccurredAt))

		_, err = NewAuditSink(mock).ListByPlayer(context.Background(), event.PlayerID, 5)
		errutil.AssertErrorCode(t, err, "AUDIT_DECODE_FAILED")
		errutil.AssertErrorContext(t, err, "column", "id")
	})
}
