// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authcache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs when no interval is given.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired sessions and stale brute-force
// counters. Correctness never depends on it; it only bounds memory.
//
// NewSweeper starts a background goroutine. Call Close to stop it.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	maxAge   time.Duration

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSweeper starts sweeping cache every interval, removing sessions older
// than the cache's SessionTTL.
func NewSweeper(cache *Cache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s := &Sweeper{
		cache:    cache,
		interval: interval,
		maxAge:   cache.Config().SessionTTL,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

// Sweep runs one pass immediately.
func (s *Sweeper) Sweep() (sessions, lockouts int) {
	sessions = s.cache.ExpireStaleSessions(s.maxAge)
	lockouts = s.cache.ExpireLockouts()
	if sessions > 0 || lockouts > 0 {
		s.cache.logger.Debug("authorization cache swept",
			"sessions_removed", sessions,
			"counters_removed", lockouts,
		)
	}
	return sessions, lockouts
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops the background goroutine and waits for it to exit. It is safe
// to call more than once.
func (s *Sweeper) Close() {
	s.closeOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
