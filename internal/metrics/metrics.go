// Package metrics holds the collector's own prometheus instrumentation,
// served at /metrics on the control port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts classified issue events per severity, before
	// suppression.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "events_total",
		Help:      "Issue events detected on monitored files.",
	}, []string{"severity"})

	// SuppressedTotal counts events swallowed by suppression rules.
	SuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "events_suppressed_total",
		Help:      "Events suppressed by rules.",
	})

	// TicketFailures counts failed ticket-bus publications.
	TicketFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "ticket_publish_failures_total",
		Help:      "Ticket bus publications that failed.",
	})

	// OutboxDepth is the current number of queued telemetry entries.
	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolvix",
		Name:      "outbox_depth",
		Help:      "Entries currently in the telemetry outbox.",
	})

	// OutboxDrops counts entries dropped by overflow or retry exhaustion.
	OutboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "outbox_drops_total",
		Help:      "Outbox entries dropped.",
	}, []string{"reason"})

	// OutboxSendFailures counts failed delivery attempts.
	OutboxSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "outbox_send_failures_total",
		Help:      "Failed telemetry POST attempts.",
	})

	// Subscribers tracks connected streaming subscribers per endpoint.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "resolvix",
		Name:      "stream_subscribers",
		Help:      "Connected streaming subscribers.",
	}, []string{"endpoint"})

	// SubscriberDrops counts subscribers disconnected for falling behind.
	SubscriberDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvix",
		Name:      "stream_subscriber_drops_total",
		Help:      "Subscribers dropped for slow consumption.",
	}, []string{"endpoint"})

	// TailersActive tracks live tailer goroutines.
	TailersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolvix",
		Name:      "tailers_active",
		Help:      "Running tailer goroutines.",
	})
)
