// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IncidentMetrics counts handled incidents by kind.
type IncidentMetrics struct {
	incidents *prometheus.CounterVec
}

// NewIncidentMetrics registers the incident counter with reg.
func NewIncidentMetrics(reg prometheus.Registerer) *IncidentMetrics {
	m := &IncidentMetrics{
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_security_incidents_total",
			Help: "Total number of security incidents handled, by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.incidents)
	return m
}

func (m *IncidentMetrics) record(kind Kind) {
	if m != nil {
		m.incidents.WithLabelValues(string(kind)).Inc()
	}
}
