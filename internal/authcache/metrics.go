// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is nil when the cache was built without a registry; every method
// tolerates a nil receiver.
type metrics struct {
	sessions        prometheus.Gauge
	lockouts        prometheus.Counter
	expiredSessions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_sessions",
			Help: "Current number of authorized player sessions",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_lockouts_total",
			Help: "Total number of brute-force lockouts started",
		}),
		expiredSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_expired_total",
			Help: "Total number of sessions removed because they outlived the session TTL",
		}),
	}
	reg.MustRegister(m.sessions, m.lockouts, m.expiredSessions)
	return m
}

func (m *metrics) sessionAdded() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *metrics) sessionsRemoved(n int) {
	if m != nil && n > 0 {
		m.sessions.Sub(float64(n))
	}
}

func (m *metrics) sessionsExpired(n int) {
	if m != nil && n > 0 {
		m.expiredSessions.Add(float64(n))
	}
}

func (m *metrics) lockoutStarted() {
	if m != nil {
		m.lockouts.Inc()
	}
}
