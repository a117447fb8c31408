// Package telemetry holds the Prometheus collectors and OpenTelemetry setup
// shared by the circulation service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CirculationRequests counts engine operations by op and outcome
// (ok, validation, not_found, error).
var CirculationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "circdesk",
	Name:      "circulation_requests_total",
	Help:      "Circulation requests by operation and outcome.",
}, []string{"op", "outcome"})

// OpenLoans tracks the number of OPEN loans after each mutation.
var OpenLoans = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "circdesk",
	Name:      "open_loans",
	Help:      "Loans currently checked out.",
})

// LateFeesCents accumulates fees charged at return.
var LateFeesCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "circdesk",
	Name:      "late_fees_cents_total",
	Help:      "Late fees charged at return, in cents.",
})

// NotificationsDispatched counts notifications by kind.
var NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "circdesk",
	Name:      "notifications_dispatched_total",
	Help:      "Notifications recorded by the dispatcher, by kind.",
}, []string{"kind"})

// SweepDuration observes how long a due-date sweep holds the engine lock.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "circdesk",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of the periodic due-date sweep.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
})

// AuditViolations is the number of failed probes in the latest audit round.
var AuditViolations = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "circdesk",
	Name:      "audit_violations",
	Help:      "Probes that failed their threshold in the last audit round.",
})

// LoginAttempts counts member logins by outcome (ok, invalid, locked, limited).
var LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "circdesk",
	Name:      "login_attempts_total",
	Help:      "Member login attempts by outcome.",
}, []string{"outcome"})
