// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authgate/internal/authcache"
)

// Default credential throttle values.
const (
	// DefaultThrottleBurst is how many login or register commands a player
	// may send back to back.
	DefaultThrottleBurst = 5

	// DefaultThrottleRate is the refill rate in commands per second.
	DefaultThrottleRate = 0.5

	// MinThrottleRate keeps the cooldown finite.
	MinThrottleRate = 0.01

	// DefaultThrottleCleanupInterval is how often idle buckets are dropped.
	DefaultThrottleCleanupInterval = 5 * time.Minute

	// DefaultThrottleIdleAge is how long a bucket may sit unused.
	DefaultThrottleIdleAge = 30 * time.Minute
)

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	// Burst defaults to DefaultThrottleBurst when zero or negative.
	Burst int

	// Rate defaults to DefaultThrottleRate when zero or negative.
	Rate float64

	CleanupInterval time.Duration
	IdleAge         time.Duration
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Throttle rate-limits credential commands per player with a token bucket.
// Each login or register costs a password hash, so a client that floods
// them is slowed down before it reaches the hasher. Brute-force lockout
// still applies on top.
//
// Throttle runs a cleanup goroutine. Call Close to stop it.
type Throttle struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]*bucket
	burst   int
	rate    float64
	idleAge time.Duration
	clock   authcache.Clock

	tracked   prometheus.Gauge
	throttled prometheus.Counter

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ThrottleOption customizes a Throttle.
type ThrottleOption func(*Throttle)

// WithThrottleClock replaces the wall clock.
func WithThrottleClock(clock authcache.Clock) ThrottleOption {
	return func(t *Throttle) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithThrottleRegistry registers the throttle metrics with reg.
func WithThrottleRegistry(reg prometheus.Registerer) ThrottleOption {
	return func(t *Throttle) {
		if reg == nil {
			return
		}
		t.tracked = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_throttle_tracked_players",
			Help: "Players with a credential throttle bucket",
		})
		t.throttled = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_throttle_rejected_total",
			Help: "Credential commands rejected by the throttle",
		})
		reg.MustRegister(t.tracked, t.throttled)
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewThrottle creates a Throttle and starts its cleanup goroutine.
func NewThrottle(cfg ThrottleConfig, opts ...ThrottleOption) *Throttle {
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultThrottleBurst
	}
	rate := cfg.Rate
	if rate <= 0 {
		rate = DefaultThrottleRate
	}
	rate = max(rate, MinThrottleRate)

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultThrottleCleanupInterval
	}
	idleAge := cfg.IdleAge
	if idleAge <= 0 {
		idleAge = DefaultThrottleIdleAge
	}

	t := &Throttle{
		buckets: make(map[uuid.UUID]*bucket),
		burst:   burst,
		rate:    rate,
		idleAge: idleAge,
		clock:   wallClock{},
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.cleanupLoop(interval)
	return t
}

// Allow spends one token for playerID. When the bucket is empty it returns
// false and the wait until the next token.
func (t *Throttle) Allow(playerID uuid.UUID) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	b, ok := t.buckets[playerID]
	if !ok {
		b = &bucket{tokens: float64(t.burst), lastSeen: now}
		t.buckets[playerID] = b
		t.setTracked()
	}

	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens = min(b.tokens+elapsed*t.rate, float64(t.burst))
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	if t.throttled != nil {
		t.throttled.Inc()
	}
	wait := time.Duration((1 - b.tokens) / t.rate * float64(time.Second))
	return false, wait
}

// Tracked returns the number of players with a bucket.
func (t *Throttle) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Sweep drops buckets unused for longer than the idle age.
func (t *Throttle) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := t.clock.Now().Add(-t.idleAge)
	for id, b := range t.buckets {
		if b.lastSeen.Before(threshold) {
			delete(t.buckets, id)
		}
	}
	t.setTracked()
}

func (t *Throttle) setTracked() {
	if t.tracked != nil {
		t.tracked.Set(float64(len(t.buckets)))
	}
}

func (t *Throttle) cleanupLoop(interval time.Duration) {
	defer t.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Close stops the cleanup goroutine and waits for it. It is safe to call
// more than once.
func (t *Throttle) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}
