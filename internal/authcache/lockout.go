// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authcache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// LockoutStatus is the brute-force state of a key. It is a value, not an
// error: a locked key is an expected outcome shown to the player.
type LockoutStatus struct {
	Locked    bool
	Remaining time.Duration // time until the lock lifts; zero when unlocked
	Failures  int           // failures counted in the current window
}

type bruteForceCounter struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time // zero when not locked
}

func (b *bruteForceCounter) lockedAt(now time.Time) bool {
	return !b.lockedUntil.IsZero() && now.Before(b.lockedUntil)
}

// stale reports whether the counter no longer affects any decision: its
// lock has lifted, or it never locked and its window has passed.
func (b *bruteForceCounter) stale(now time.Time, window time.Duration) bool {
	if !b.lockedUntil.IsZero() {
		return !now.Before(b.lockedUntil)
	}
	return !now.Before(b.windowStart.Add(window))
}

type counterShard struct {
	mu       sync.Mutex
	counters map[string]*bruteForceCounter
}

func (c *Cache) counterShard(key string) *counterShard {
	return c.counters[xxhash.Sum64String(key)&c.mask]
}

// RecordFailure counts one failed attempt for key. The failure that reaches
// the threshold starts a lockout and reports the full lockout duration.
// Failures recorded while the key is already locked leave the lock as is and
// report the time remaining.
func (c *Cache) RecordFailure(key string) LockoutStatus {
	now := c.clock.Now()
	sh := c.counterShard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.counters[key]
	if !ok {
		b = &bruteForceCounter{windowStart: now}
		sh.counters[key] = b
	}

	if b.lockedAt(now) {
		return LockoutStatus{Locked: true, Remaining: b.lockedUntil.Sub(now), Failures: b.failures}
	}
	if b.stale(now, c.cfg.FailureWindow) {
		*b = bruteForceCounter{windowStart: now}
	}

	b.failures++
	if b.failures >= c.cfg.Threshold {
		b.lockedUntil = now.Add(c.cfg.LockoutDuration)
		c.metrics.lockoutStarted()
		c.logger.Debug("brute-force lockout started",
			"key", key,
			"failures", b.failures,
			"locked_until", b.lockedUntil,
		)
		return LockoutStatus{Locked: true, Remaining: c.cfg.LockoutDuration, Failures: b.failures}
	}
	return LockoutStatus{Failures: b.failures}
}

// IsLocked reports the brute-force state of key. A lock that has lifted, or
// a window that has passed, clears the counter.
func (c *Cache) IsLocked(key string) LockoutStatus {
	now := c.clock.Now()
	sh := c.counterShard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.counters[key]
	if !ok {
		return LockoutStatus{}
	}
	if b.stale(now, c.cfg.FailureWindow) {
		delete(sh.counters, key)
		return LockoutStatus{}
	}
	if b.lockedAt(now) {
		return LockoutStatus{Locked: true, Remaining: b.lockedUntil.Sub(now), Failures: b.failures}
	}
	return LockoutStatus{Failures: b.failures}
}

// ResetFailures forgets all failures for key, lifting any lock.
func (c *Cache) ResetFailures(key string) {
	sh := c.counterShard(key)
	sh.mu.Lock()
	delete(sh.counters, key)
	sh.mu.Unlock()
}

// ExpireLockouts drops counters that no longer affect any decision and
// returns how many were dropped. Shards are locked one at a time.
func (c *Cache) ExpireLockouts() int {
	now := c.clock.Now()

	removed := 0
	for _, sh := range c.counters {
		sh.mu.Lock()
		for key, b := range sh.counters {
			if b.stale(now, c.cfg.FailureWindow) {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// TrackedKeys returns the number of live brute-force counters.
func (c *Cache) TrackedKeys() int {
	total := 0
	for _, sh := range c.counters {
		sh.mu.Lock()
		total += len(sh.counters)
		sh.mu.Unlock()
	}
	return total
}
