// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL side of authgate: connecting, schema
// migrations and the persistent security audit trail.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the query surface shared by *pgxpool.Pool and pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connection defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
	maxConnectBackoff      = 10 * time.Second
)

// ConnectConfig controls how Connect reaches the database.
type ConnectConfig struct {
	URL            string
	Attempts       uint64        // 0 means DefaultConnectAttempts
	InitialBackoff time.Duration // 0 means DefaultConnectBackoff
	Logger         *slog.Logger
}

// Connect opens a pool and pings it, retrying with exponential backoff while
// the database is unreachable. A malformed URL fails immediately.
func Connect(ctx context.Context, cfg ConnectConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultConnectBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := retry.NewExponential(backoff)
	b = retry.WithCappedDuration(maxConnectBackoff, b)
	b = retry.WithMaxRetries(attempts-1, b)

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("database not reachable",
				"attempt", attempt,
				"max_attempts", attempts,
				"host", poolCfg.ConnConfig.Host,
				"error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("host", poolCfg.ConnConfig.Host).
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("connected to database", "host", poolCfg.ConnConfig.Host, "attempts", attempt)
	return pool, nil
}
