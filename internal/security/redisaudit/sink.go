// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisaudit appends security events to a Redis stream.
package redisaudit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/security"
)

// Defaults applied by New.
const (
	DefaultStream = "authgate:security"
	DefaultMaxLen = 10000
)

// Config configures a Sink.
type Config struct {
	// Client is required.
	Client redis.UniversalClient

	// Stream is the stream key. Defaults to DefaultStream.
	Stream string

	// MaxLen caps the stream length; older entries are trimmed.
	// Defaults to DefaultMaxLen. Negative disables trimming.
	MaxLen int64
}

// Sink implements security.Sink with XADD.
type Sink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// New creates a Sink.
func New(cfg Config) (*Sink, error) {
	if cfg.Client == nil {
		return nil, oops.Code("AUDIT_REDIS_CONFIG").Errorf("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.MaxLen < 0 {
		cfg.MaxLen = 0
	}
	return &Sink{client: cfg.Client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// Emit appends event to the stream.
func (s *Sink) Emit(ctx context.Context, event security.Event) error {
	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").
			With("event_id", event.ID.String()).
			Wrap(err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]any{
			"id":          event.ID.String(),
			"kind":        string(event.Kind),
			"player_id":   event.PlayerID.String(),
			"address":     event.Address.String(),
			"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
			"fields":      string(fields),
		},
	}).Err()
	if err != nil {
		return oops.Code("AUDIT_REDIS_FAILED").
			With("stream", s.stream).
			With("event_id", event.ID.String()).
			Wrap(err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}
