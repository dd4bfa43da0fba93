// Package ticket publishes surviving log events to the remote ticket
// bus. Publication is fire-and-forget: a failure is logged and counted,
// never retried locally — the telemetry outbox is the only durable queue
// this daemon keeps.
package ticket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/metrics"
	"github.com/resolvix/collector/internal/model"
)

const requestTimeout = 5 * time.Second

// Publisher posts events to the bus endpoint.
type Publisher struct {
	url      string
	client   *http.Client
	log      zerolog.Logger
	failures atomic.Uint64
}

// New creates a publisher. An empty URL yields a disabled publisher
// whose Publish is a no-op.
func New(url string, log zerolog.Logger) *Publisher {
	return &Publisher{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
	}
}

// Enabled reports whether a bus URL is configured.
func (p *Publisher) Enabled() bool { return p.url != "" }

// Failures reports failed publications this process lifetime.
func (p *Publisher) Failures() uint64 { return p.failures.Load() }

// Publish submits the event without blocking the caller. Ordering across
// events is not guaranteed and does not need to be.
func (p *Publisher) Publish(ev model.LogEvent) {
	if p.url == "" {
		return
	}
	go func() {
		if err := p.send(ev); err != nil {
			p.failures.Add(1)
			metrics.TicketFailures.Inc()
			p.log.Warn().Err(err).Str("label", ev.Label).Msg("ticket publication failed")
		}
	}()
}

func (p *Publisher) send(ev model.LogEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ticket bus rejected: HTTP %d", resp.StatusCode)
	}
	return nil
}
