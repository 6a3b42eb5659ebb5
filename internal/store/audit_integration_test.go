// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/internal/store"
)

var _ = Describe("AuditSink", Ordered, func() {
	var (
		ctx       context.Context
		pool      *pgxpool.Pool
		sink      *store.AuditSink
		terminate func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var connStr string
		connStr, terminate = startPostgres(ctx, GinkgoT())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, store.ConnectConfig{URL: connStr})
		Expect(err).NotTo(HaveOccurred())
		sink = store.NewAuditSink(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if terminate != nil {
			terminate()
		}
	})

	newEvent := func(player uuid.UUID, kind security.Kind, at time.Time) security.Event {
		return security.Event{
			ID:         security.NewEventID(at),
			Kind:       kind,
			PlayerID:   player,
			Address:    netaddr.MustParse("192.0.2.10:25565"),
			Fields:     map[string]string{"attempt": "1"},
			OccurredAt: at,
		}
	}

	It("stores and lists events newest first", func() {
		player := uuid.New()
		base := time.Now().UTC().Truncate(time.Microsecond)
		older := newEvent(player, security.KindVerificationFailed, base.Add(-time.Minute))
		newer := newEvent(player, security.KindIdentityMismatch, base)

		Expect(sink.Emit(ctx, older)).To(Succeed())
		Expect(sink.Emit(ctx, newer)).To(Succeed())

		events, err := sink.ListByPlayer(ctx, player, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].ID).To(Equal(newer.ID))
		Expect(events[0].Kind).To(Equal(security.KindIdentityMismatch))
		Expect(events[1].Fields).To(HaveKeyWithValue("attempt", "1"))
		Expect(events[1].OccurredAt.Equal(older.OccurredAt)).To(BeTrue())
	})

	It("ignores a duplicate event id", func() {
		player := uuid.New()
		event := newEvent(player, security.KindVerificationError, time.Now().UTC())

		Expect(sink.Emit(ctx, event)).To(Succeed())
		Expect(sink.Emit(ctx, event)).To(Succeed())

		events, err := sink.ListByPlayer(ctx, player, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
	})

	It("returns nothing for an unknown player", func() {
		events, err := sink.ListByPlayer(ctx, uuid.New(), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})
})
