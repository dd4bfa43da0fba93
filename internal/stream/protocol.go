package stream

import (
	"time"

	"github.com/resolvix/collector/internal/model"
)

// Wire envelopes. Every message a streaming socket emits is one of
// these, discriminated by "kind".

// EventMessage carries one surviving log event.
type EventMessage struct {
	Kind     string         `json:"kind"` // "event"
	TS       time.Time      `json:"ts"`
	Label    string         `json:"label"`
	Priority model.Priority `json:"priority"`
	Severity model.Severity `json:"severity"`
	Line     string         `json:"line"`
}

// TelemetryMessage carries one snapshot.
type TelemetryMessage struct {
	Kind     string                  `json:"kind"` // "telemetry"
	TS       time.Time               `json:"ts"`
	Snapshot model.TelemetrySnapshot `json:"snapshot"`
}

// Heartbeat keeps idle connections demonstrably alive.
type Heartbeat struct {
	Kind string    `json:"kind"` // "heartbeat"
	TS   time.Time `json:"ts"`
}

// SubscribeRequest is the optional first message a subscriber sends to
// narrow what it receives. Zero values mean "everything".
type SubscribeRequest struct {
	Labels      []string `json:"labels,omitempty"`
	MinPriority string   `json:"min_priority,omitempty"`
}

// NewEventMessage wraps a LogEvent for the wire.
func NewEventMessage(ev model.LogEvent) EventMessage {
	return EventMessage{
		Kind:     "event",
		TS:       ev.Timestamp,
		Label:    ev.Label,
		Priority: ev.Priority,
		Severity: ev.Severity,
		Line:     ev.Line,
	}
}

// EventFilter compiles a SubscribeRequest into a hub filter.
func EventFilter(req SubscribeRequest) Filter[EventMessage] {
	if len(req.Labels) == 0 && req.MinPriority == "" {
		return nil
	}

	labels := make(map[string]struct{}, len(req.Labels))
	for _, l := range req.Labels {
		labels[l] = struct{}{}
	}
	minRank := -1
	if req.MinPriority != "" {
		if p, ok := model.ParsePriority(req.MinPriority); ok {
			minRank = model.PriorityRank[p]
		}
	}

	return func(m EventMessage) bool {
		if len(labels) > 0 {
			if _, ok := labels[m.Label]; !ok {
				return false
			}
		}
		if minRank >= 0 && model.PriorityRank[m.Priority] < minRank {
			return false
		}
		return true
	}
}
