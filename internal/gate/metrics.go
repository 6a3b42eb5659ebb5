// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GateDecisions is the counter for gate decisions, labelled by reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var GateDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_gate_decisions_total",
		Help: "Total number of command gate decisions",
	},
	[]string{"decision"},
)

// RegisterMetrics registers gate metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(GateDecisions)
}

func recordDecision(reason Reason) {
	GateDecisions.WithLabelValues(string(reason)).Inc()
}
