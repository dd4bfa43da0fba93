package outbox

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/metrics"
)

// Sender defaults.
const (
	DefaultIdleInterval = 5 * time.Second
	DefaultPostTimeout  = 10 * time.Second
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = 5 * time.Minute
	DefaultMaxAttempts  = 10
)

// SenderConfig wires the delivery loop.
type SenderConfig struct {
	URL          string
	Token        string
	IdleInterval time.Duration
	PostTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
	Log          zerolog.Logger
}

// Sender drains the queue to the ingestion endpoint: single in-flight
// POST, in order, at-least-once.
type Sender struct {
	queue  *Queue
	cfg    SenderConfig
	client *http.Client
}

// NewSender creates a sender for the queue.
func NewSender(q *Queue, cfg SenderConfig) *Sender {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = DefaultPostTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Sender{
		queue:  q,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.PostTimeout},
	}
}

// Run delivers until cancelled.
func (s *Sender) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		head, ok := s.queue.Head()
		if !ok {
			if !sleepCtx(ctx, s.cfg.IdleInterval) {
				return
			}
			continue
		}

		if wait := time.Until(head.NextAttemptTS); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		if s.post(ctx, head) {
			if err := s.queue.Pop(); err != nil {
				s.cfg.Log.Error().Err(err).Msg("failed to pop delivered entry")
			}
			continue
		}

		head.Attempts++
		if head.Attempts >= s.cfg.MaxAttempts {
			s.cfg.Log.Warn().Int64("seq", head.Seq).Int("attempts", head.Attempts).
				Msg("dropping undeliverable telemetry entry")
			if err := s.queue.DropHead(); err != nil {
				s.cfg.Log.Error().Err(err).Msg("failed to drop exhausted entry")
			}
			continue
		}

		head.NextAttemptTS = time.Now().Add(s.backoff(head.Attempts))
		if err := s.queue.UpdateHead(head); err != nil {
			s.cfg.Log.Error().Err(err).Msg("failed to persist retry state")
		}
	}
}

// post performs one delivery attempt. Non-2xx, network errors, and
// timeouts all count the same: not delivered.
func (s *Sender) post(ctx context.Context, e Entry) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.PostTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.URL, bytes.NewReader(e.Payload))
	if err != nil {
		s.cfg.Log.Error().Err(err).Msg("building ingestion request")
		metrics.OutboxSendFailures.Inc()
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.cfg.Log.Warn().Err(err).Int64("seq", e.Seq).Msg("telemetry POST failed")
		metrics.OutboxSendFailures.Inc()
		return false
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	s.cfg.Log.Warn().Int("status", resp.StatusCode).Int64("seq", e.Seq).Msg("telemetry POST rejected")
	metrics.OutboxSendFailures.Inc()
	return false
}

// backoff computes min(base·2^(attempts-1), max) with up to 25% jitter.
func (s *Sender) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempts && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
