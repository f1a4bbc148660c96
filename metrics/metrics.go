// Package metrics exposes the prometheus instruments of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ceremony outcome counters. The result label is "success", "rejected" for
// client/protocol-state errors, or "error" for server faults.
var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendkey",
		Name:      "registrations_total",
		Help:      "Registration ceremony completions by result.",
	}, []string{"result"})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendkey",
		Name:      "logins_total",
		Help:      "Authentication ceremony completions by result.",
	}, []string{"result"})
)
