// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authcache tracks which players are currently authenticated, the
// address each authentication is bound to, and brute-force failure counters.
//
// The cache is the only owner of this state. Both maps are split into
// shards, each behind its own lock, so unrelated players never contend and
// every read-modify-write on one key happens under a single shard lock.
// Periodic sweeps visit one shard at a time.
package authcache

import (
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authgate/internal/netaddr"
)

// Defaults applied by New for zero config values.
const (
	DefaultSessionTTL      = time.Hour
	DefaultThreshold       = 5
	DefaultLockoutDuration = 5 * time.Minute
	DefaultShards          = 64
)

// Config configures a Cache.
type Config struct {
	// SessionTTL bounds how long an authorization stays valid. Expired
	// sessions read as absent. Negative disables expiry.
	SessionTTL time.Duration

	// Threshold is the number of failures within FailureWindow that locks a key.
	Threshold int

	// LockoutDuration is how long a key stays locked.
	LockoutDuration time.Duration

	// FailureWindow is how long failures keep counting toward a lockout.
	// Defaults to LockoutDuration.
	FailureWindow time.Duration

	// Shards is rounded up to a power of two.
	Shards int

	// KeyFunc derives brute-force keys for Authorize resets and for callers
	// via Keys. Defaults to KeyByAddress.
	KeyFunc KeyFunc
}

func (c Config) withDefaults() Config {
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = c.LockoutDuration
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	c.Shards = 1 << bits.Len(uint(c.Shards-1))
	if c.KeyFunc == nil {
		c.KeyFunc = KeyByAddress
	}
	return c
}

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry registers cache metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Cache) {
		c.metrics = newMetrics(reg)
	}
}

// Session is one player's current trust state. Values returned by the cache
// are copies.
type Session struct {
	PlayerID     uuid.UUID
	BoundAddress netaddr.Address
	AuthorizedAt time.Time
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg      Config
	mask     uint64
	sessions []*sessionShard
	counters []*counterShard
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics
}

// New creates a Cache.
func New(cfg Config, opts ...Option) *Cache {
	cfg = cfg.withDefaults()

	c := &Cache{
		cfg:      cfg,
		mask:     uint64(cfg.Shards - 1),
		sessions: make([]*sessionShard, cfg.Shards),
		counters: make([]*counterShard, cfg.Shards),
		clock:    systemClock{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for i := range cfg.Shards {
		c.sessions[i] = &sessionShard{sessions: make(map[uuid.UUID]Session)}
		c.counters[i] = &counterShard{counters: make(map[string]*bruteForceCounter)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration, defaults applied.
func (c *Cache) Config() Config {
	return c.cfg
}

func (c *Cache) sessionShard(id uuid.UUID) *sessionShard {
	return c.sessions[xxhash.Sum64(id[:])&c.mask]
}

// IsAuthorized reports whether playerID holds a live session bound to addr.
// A session bound to a different address reads as unauthorized.
func (c *Cache) IsAuthorized(playerID uuid.UUID, addr netaddr.Address) bool {
	now := c.clock.Now()
	sh := c.sessionShard(playerID)

	sh.mu.RLock()
	s, ok := sh.sessions[playerID]
	sh.mu.RUnlock()

	if !ok {
		return false
	}
	if c.expired(s, now, c.cfg.SessionTTL) {
		c.removeIfUnchanged(sh, s)
		return false
	}
	return s.BoundAddress.SameHost(addr)
}

// removeIfUnchanged drops an expired session unless it was replaced after
// the caller read it.
func (c *Cache) removeIfUnchanged(sh *sessionShard, seen Session) {
	sh.mu.Lock()
	current, ok := sh.sessions[seen.PlayerID]
	removed := ok && current.AuthorizedAt.Equal(seen.AuthorizedAt)
	if removed {
		delete(sh.sessions, seen.PlayerID)
	}
	sh.mu.Unlock()

	if removed {
		c.metrics.sessionsRemoved(1)
		c.metrics.sessionsExpired(1)
		c.logger.Debug("session expired on read", "player_id", seen.PlayerID.String())
	}
}

func (c *Cache) expired(s Session, now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && !now.Before(s.AuthorizedAt.Add(maxAge))
}

// Authorize records a successful authentication, replacing any previous
// session for playerID, and clears the brute-force counters for the keys the
// configured KeyFunc derives from the identity and address.
func (c *Cache) Authorize(playerID uuid.UUID, addr netaddr.Address) {
	s := Session{PlayerID: playerID, BoundAddress: addr, AuthorizedAt: c.clock.Now()}
	sh := c.sessionShard(playerID)

	sh.mu.Lock()
	_, existed := sh.sessions[playerID]
	sh.sessions[playerID] = s
	sh.mu.Unlock()

	if !existed {
		c.metrics.sessionAdded()
	}
	for _, key := range c.Keys(playerID, addr) {
		c.ResetFailures(key)
	}
}

// Deauthorize removes the session for playerID. Removing an absent session
// is a no-op.
func (c *Cache) Deauthorize(playerID uuid.UUID) {
	sh := c.sessionShard(playerID)

	sh.mu.Lock()
	_, existed := sh.sessions[playerID]
	delete(sh.sessions, playerID)
	sh.mu.Unlock()

	if existed {
		c.metrics.sessionsRemoved(1)
	}
}

// Session returns a copy of the stored session, including expired sessions
// not yet swept.
func (c *Cache) Session(playerID uuid.UUID) (Session, bool) {
	sh := c.sessionShard(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[playerID]
	return s, ok
}

// IsExpired reports whether s has outlived the session TTL.
func (c *Cache) IsExpired(s Session) bool {
	return c.expired(s, c.clock.Now(), c.cfg.SessionTTL)
}

// Len returns the number of stored sessions.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.sessions {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

// ExpireStaleSessions removes sessions authorized at least maxAge ago and
// returns how many were removed. Shards are locked one at a time.
func (c *Cache) ExpireStaleSessions(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	now := c.clock.Now()

	removed := 0
	for _, sh := range c.sessions {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if c.expired(s, now, maxAge) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	c.metrics.sessionsRemoved(removed)
	c.metrics.sessionsExpired(removed)
	return removed
}

// Keys derives the brute-force keys for a login attempt using the configured
// KeyFunc.
func (c *Cache) Keys(playerID uuid.UUID, addr netaddr.Address) []string {
	return c.cfg.KeyFunc(playerID, addr)
}
