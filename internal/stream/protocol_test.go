package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/resolvix/collector/internal/model"
)

// The wire shapes are a compatibility surface for subscribers; these
// fixtures pin them.

func TestEventEnvelopeFixture(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := NewEventMessage(model.LogEvent{
		Timestamp: ts,
		Label:     "apache2_error",
		Path:      "/var/log/apache2/error.log",
		Priority:  model.PriorityHigh,
		Severity:  model.SeverityError,
		Line:      "ERROR xyz",
		NodeIP:    "10.0.0.1",
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"kind":"event","ts":"2025-03-01T12:00:00Z","label":"apache2_error","priority":"high","severity":"error","line":"ERROR xyz"}`
	if string(data) != want {
		t.Fatalf("envelope drifted:\n got %s\nwant %s", data, want)
	}
}

func TestHeartbeatEnvelopeFixture(t *testing.T) {
	hb := Heartbeat{Kind: "heartbeat", TS: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(hb)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"kind":"heartbeat","ts":"2025-03-01T12:00:00Z"}`
	if string(data) != want {
		t.Fatalf("envelope drifted:\n got %s\nwant %s", data, want)
	}
}

func TestSubscribeRequestParses(t *testing.T) {
	var req SubscribeRequest
	err := json.Unmarshal([]byte(`{"labels":["a","b"],"min_priority":"high"}`), &req)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Labels) != 2 || req.MinPriority != "high" {
		t.Fatalf("parse wrong: %+v", req)
	}
}
