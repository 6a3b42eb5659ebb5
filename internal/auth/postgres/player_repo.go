// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements auth.PlayerStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/auth"
)

// poolIface is the query surface shared by *pgxpool.Pool and pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PlayerRepository implements auth.PlayerStore on the auth table.
type PlayerRepository struct {
	pool poolIface
}

// NewPlayerRepository creates a new PlayerRepository.
func NewPlayerRepository(pool poolIface) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

const selectPlayer = `
	SELECT nickname, lowercase_nickname, hash, ip, login_ip,
	       uuid::text, premium_uuid::text, reg_date, login_date
	FROM auth
`

// FindByLowercaseName retrieves a player by nickname, case-insensitively.
func (r *PlayerRepository) FindByLowercaseName(ctx context.Context, name string) (*auth.Player, error) {
	name = strings.ToLower(name)
	row := r.pool.QueryRow(ctx, selectPlayer+`WHERE lowercase_nickname = $1`, name)

	player, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PLAYER_NOT_FOUND").
			With("nickname", name).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PLAYER_GET_FAILED").
			With("operation", "find player by name").
			With("nickname", name).
			Wrap(err)
	}
	return player, nil
}

// Create stores a newly registered player. A taken nickname yields
// auth.ErrAlreadyExists.
func (r *PlayerRepository) Create(ctx context.Context, player *auth.Player) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth (
			lowercase_nickname, nickname, hash, ip, login_ip,
			uuid, premium_uuid, reg_date, login_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		player.LowercaseNickname,
		player.Nickname,
		nullString(player.Hash),
		player.IP,
		player.LoginIP,
		player.UUID.String(),
		nullUUID(player.PremiumUUID),
		player.RegisteredAt,
		player.LastLoginAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("PLAYER_ALREADY_EXISTS").
			With("nickname", player.Nickname).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("PLAYER_CREATE_FAILED").
			With("operation", "insert player").
			With("nickname", player.Nickname).
			Wrap(err)
	}
	return nil
}

// Save updates the mutable fields of an existing player.
func (r *PlayerRepository) Save(ctx context.Context, player *auth.Player) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE auth
		SET nickname = $2, hash = $3, login_ip = $4, premium_uuid = $5, login_date = $6
		WHERE lowercase_nickname = $1
	`,
		player.LowercaseNickname,
		player.Nickname,
		nullString(player.Hash),
		player.LoginIP,
		nullUUID(player.PremiumUUID),
		player.LastLoginAt,
	)
	if err != nil {
		return oops.Code("PLAYER_SAVE_FAILED").
			With("operation", "update player").
			With("nickname", player.Nickname).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", player.Nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanPlayer(row pgx.Row) (*auth.Player, error) {
	var (
		p           auth.Player
		hash        *string
		id          string
		premiumUUID *string
		regDate     time.Time
		loginDate   time.Time
	)
	if err := row.Scan(&p.Nickname, &p.LowercaseNickname, &hash, &p.IP, &p.LoginIP,
		&id, &premiumUUID, &regDate, &loginDate); err != nil {
		return nil, err //nolint:wrapcheck // callers attach context
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, oops.Code("PLAYER_CORRUPT").With("column", "uuid").Wrap(err)
	}
	p.UUID = parsed
	if premiumUUID != nil {
		parsed, err := uuid.Parse(*premiumUUID)
		if err != nil {
			return nil, oops.Code("PLAYER_CORRUPT").With("column", "premium_uuid").Wrap(err)
		}
		p.PremiumUUID = parsed
	}
	if hash != nil {
		p.Hash = *hash
	}
	p.RegisteredAt = regDate
	p.LastLoginAt = loginDate
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

var _ auth.PlayerStore = (*PlayerRepository)(nil)
