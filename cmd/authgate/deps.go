// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/authgate/internal/observability"
	"github.com/holomush/authgate/internal/store"
)

// Pool is the database surface the server needs. *pgxpool.Pool and
// pgxmock pools implement it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ObservabilityServer is the metrics and health endpoint server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registerer() prometheus.Registerer
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.ConnectConfig) (Pool, error)

	// RedisClientFactory creates the client for the redis audit sink.
	// Default: redis.NewClient
	RedisClientFactory func(addr, password string) redis.UniversalClient

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string, ready observability.ReadinessChecker) ObservabilityServer

	// Ready is called with the bridge address once the server accepts
	// proxy connections.
	Ready func(bridgeAddr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, cfg store.ConnectConfig) (Pool, error) {
			pool, err := store.Connect(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = func(addr, password string) redis.UniversalClient {
			return redis.NewClient(&redis.Options{Addr: addr, Password: password})
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr, version string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, version, ready)
		}
	}
	if out.Ready == nil {
		out.Ready = func(string) {}
	}
	return &out
}
