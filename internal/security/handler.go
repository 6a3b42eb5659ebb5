// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package security reacts to trust-breaking events during authentication.
//
// Every handler removes the player's session before it audits anything. The
// audit path may fail or panic; neither outcome reaches the caller, and
// neither can bring the session back.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/pkg/errutil"
)

// Deauthorizer removes a player's session. *authcache.Cache implements it.
type Deauthorizer interface {
	Deauthorize(playerID uuid.UUID)
}

// Identity is the account identity involved in a mismatch.
type Identity struct {
	UUID        uuid.UUID
	PremiumUUID uuid.UUID // uuid.Nil for offline accounts
	Nickname    string
}

// IncidentHandler deauthorizes players and audits why.
type IncidentHandler struct {
	cache   Deauthorizer
	sink    Sink
	logger  *slog.Logger
	metrics *IncidentMetrics
	now     func() time.Time
}

// HandlerOption customizes an IncidentHandler.
type HandlerOption func(*IncidentHandler)

// WithLogger sets the logger for containment errors.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *IncidentHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics counts handled incidents.
func WithMetrics(m *IncidentMetrics) HandlerOption {
	return func(h *IncidentHandler) {
		h.metrics = m
	}
}

// WithNow replaces the event timestamp source.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *IncidentHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewIncidentHandler creates a handler. A nil sink discards audit events.
func NewIncidentHandler(cache Deauthorizer, sink Sink, opts ...HandlerOption) *IncidentHandler {
	if sink == nil {
		sink = NopSink{}
	}
	h := &IncidentHandler{
		cache:  cache,
		sink:   sink,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnVerificationFailure handles a wrong password.
func (h *IncidentHandler) OnVerificationFailure(ctx context.Context, playerID uuid.UUID, addr netaddr.Address) {
	h.cache.Deauthorize(playerID)
	h.audit(ctx, KindVerificationFailed, playerID, addr, nil)
}

// OnUUIDMismatch handles a connection whose identity disagrees with the
// stored account. Both identities go to the audit trail only.
func (h *IncidentHandler) OnUUIDMismatch(ctx context.Context, playerID uuid.UUID, observed netaddr.Address, expected, stored Identity) {
	h.cache.Deauthorize(playerID)
	h.audit(ctx, KindIdentityMismatch, playerID, observed, map[string]string{
		"expected_uuid":         expected.UUID.String(),
		"expected_premium_uuid": expected.PremiumUUID.String(),
		"expected_nickname":     expected.Nickname,
		"stored_uuid":           stored.UUID.String(),
		"stored_premium_uuid":   stored.PremiumUUID.String(),
		"stored_nickname":       stored.Nickname,
	})
}

// OnAddressMismatch handles a session presented from a host other than the
// one it was bound to at login.
func (h *IncidentHandler) OnAddressMismatch(ctx context.Context, playerID uuid.UUID, bound, observed netaddr.Address) {
	h.cache.Deauthorize(playerID)
	h.audit(ctx, KindAddressMismatch, playerID, observed, map[string]string{
		"bound_address": bound.String(),
	})
}

// OnVerificationException handles an unexpected error raised while
// verifying credentials. It always returns false so callers can write
//
//	return h.OnVerificationException(ctx, id, addr, err)
//
// from a function reporting whether verification succeeded.
func (h *IncidentHandler) OnVerificationException(ctx context.Context, playerID uuid.UUID, addr netaddr.Address, cause error) bool {
	h.cache.Deauthorize(playerID)

	fields := map[string]string{"cause": "unknown"}
	if cause != nil {
		fields["cause"] = cause.Error()
		if code := errutil.Code(cause); code != "" {
			fields["code"] = code
		}
	}
	h.audit(ctx, KindVerificationError, playerID, addr, fields)
	return false
}

// audit emits the event, containing sink errors and panics.
func (h *IncidentHandler) audit(ctx context.Context, kind Kind, playerID uuid.UUID, addr netaddr.Address, fields map[string]string) {
	h.metrics.record(kind)

	event := newEvent(kind, playerID, addr, h.now(), fields)

	defer func() {
		if r := recover(); r != nil {
			errutil.LogError(h.logger, "audit sink panicked", oops.
				Code("AUDIT_SINK_PANIC").
				With("event_id", event.ID.String()).
				With("kind", string(kind)).
				With("player_id", playerID.String()).
				Errorf("panic: %v", r))
		}
	}()

	if err := h.sink.Emit(ctx, event); err != nil {
		errutil.LogError(h.logger, "audit sink failed", oops.
			Code("AUDIT_EMIT_FAILED").
			With("event_id", event.ID.String()).
			With("kind", string(kind)).
			With("player_id", playerID.String()).
			Wrap(err))
	}
}
