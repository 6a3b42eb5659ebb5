// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package security

import (
	"context"
	"errors"
	"log/slog"
)

// MarkerKey and MarkerValue tag every security log line so operators can
// route them separately.
const (
	MarkerKey   = "marker"
	MarkerValue = "SECURITY"
)

// Sink receives audited security events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// NopSink discards events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// LogSink writes each event as a warning-level structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, event Event) error {
	attrs := make([]slog.Attr, 0, 6+len(event.Fields))
	attrs = append(attrs,
		slog.String(MarkerKey, MarkerValue),
		slog.String("event_id", event.ID.String()),
		slog.String("kind", string(event.Kind)),
		slog.String("player_id", event.PlayerID.String()),
		slog.String("address", event.Address.String()),
		slog.Time("occurred_at", event.OccurredAt),
	)
	for k, v := range event.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "security incident", attrs...)
	return nil
}

// MultiSink fans an event out to every sink. Each sink is called even when an
// earlier one fails; the errors are joined.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
