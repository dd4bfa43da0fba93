package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so tuning files can say "250ms" or "5s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and bare integers (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Tuning collects every interval and limit an operator may want to nudge
// without rebuilding. In the overlay file, zero or absent values mean
// "use the default".
type Tuning struct {
	TailPollInterval   time.Duration
	TailPausedInterval time.Duration
	TailReopenAttempts int

	RuleCacheTTL time.Duration

	TelemetryPeriod time.Duration
	TopProcesses    int

	OutboxPath         string
	OutboxMaxQueue     int
	OutboxIdleInterval time.Duration
	OutboxPostTimeout  time.Duration
	OutboxBackoffBase  time.Duration
	OutboxBackoffMax   time.Duration
	OutboxMaxAttempts  int

	StreamHeartbeatPeriod  time.Duration
	StreamSubscriberBuffer int
	StreamReplayRing       int

	LogsPort      int
	TelemetryPort int

	ShutdownGrace  time.Duration
	RequestTimeout time.Duration
}

// tuningOverlay is the on-disk shape: every interval as a Duration so
// "250ms"-style values parse.
type tuningOverlay struct {
	TailPollInterval   Duration `yaml:"tail_poll_interval"`
	TailPausedInterval Duration `yaml:"tail_paused_interval"`
	TailReopenAttempts int      `yaml:"tail_reopen_attempts"`

	RuleCacheTTL Duration `yaml:"rule_cache_ttl"`

	TelemetryPeriod Duration `yaml:"telemetry_period"`
	TopProcesses    int      `yaml:"top_processes"`

	OutboxPath         string   `yaml:"outbox_path"`
	OutboxMaxQueue     int      `yaml:"outbox_max_queue"`
	OutboxIdleInterval Duration `yaml:"outbox_idle_interval"`
	OutboxPostTimeout  Duration `yaml:"outbox_post_timeout"`
	OutboxBackoffBase  Duration `yaml:"outbox_backoff_base"`
	OutboxBackoffMax   Duration `yaml:"outbox_backoff_max"`
	OutboxMaxAttempts  int      `yaml:"outbox_max_attempts"`

	StreamHeartbeatPeriod  Duration `yaml:"stream_heartbeat_period"`
	StreamSubscriberBuffer int      `yaml:"stream_subscriber_buffer"`
	StreamReplayRing       int      `yaml:"stream_replay_ring"`

	LogsPort      int `yaml:"logs_port"`
	TelemetryPort int `yaml:"telemetry_port"`

	ShutdownGrace  Duration `yaml:"shutdown_grace"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// DefaultTuning returns the shipped defaults.
func DefaultTuning() Tuning {
	return Tuning{
		TailPollInterval:       250 * time.Millisecond,
		TailPausedInterval:     5 * time.Second,
		TailReopenAttempts:     5,
		RuleCacheTTL:           60 * time.Second,
		TelemetryPeriod:        60 * time.Second,
		TopProcesses:           10,
		OutboxPath:             "/var/lib/resolvix/telemetry_queue",
		OutboxMaxQueue:         1000,
		OutboxIdleInterval:     5 * time.Second,
		OutboxPostTimeout:      10 * time.Second,
		OutboxBackoffBase:      time.Second,
		OutboxBackoffMax:       5 * time.Minute,
		OutboxMaxAttempts:      10,
		StreamHeartbeatPeriod:  15 * time.Second,
		StreamSubscriberBuffer: 256,
		StreamReplayRing:       100,
		LogsPort:               8755,
		TelemetryPort:          8756,
		ShutdownGrace:          10 * time.Second,
		RequestTimeout:         15 * time.Second,
	}
}

// LoadTuning reads a YAML tuning file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	var overlay tuningOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	t.merge(overlay)
	return t, nil
}

// merge applies every non-zero field of the overlay.
func (t *Tuning) merge(o tuningOverlay) {
	overrideDur(&t.TailPollInterval, o.TailPollInterval)
	overrideDur(&t.TailPausedInterval, o.TailPausedInterval)
	overrideInt(&t.TailReopenAttempts, o.TailReopenAttempts)
	overrideDur(&t.RuleCacheTTL, o.RuleCacheTTL)
	overrideDur(&t.TelemetryPeriod, o.TelemetryPeriod)
	overrideInt(&t.TopProcesses, o.TopProcesses)
	if o.OutboxPath != "" {
		t.OutboxPath = o.OutboxPath
	}
	overrideInt(&t.OutboxMaxQueue, o.OutboxMaxQueue)
	overrideDur(&t.OutboxIdleInterval, o.OutboxIdleInterval)
	overrideDur(&t.OutboxPostTimeout, o.OutboxPostTimeout)
	overrideDur(&t.OutboxBackoffBase, o.OutboxBackoffBase)
	overrideDur(&t.OutboxBackoffMax, o.OutboxBackoffMax)
	overrideInt(&t.OutboxMaxAttempts, o.OutboxMaxAttempts)
	overrideDur(&t.StreamHeartbeatPeriod, o.StreamHeartbeatPeriod)
	overrideInt(&t.StreamSubscriberBuffer, o.StreamSubscriberBuffer)
	overrideInt(&t.StreamReplayRing, o.StreamReplayRing)
	overrideInt(&t.LogsPort, o.LogsPort)
	overrideInt(&t.TelemetryPort, o.TelemetryPort)
	overrideDur(&t.ShutdownGrace, o.ShutdownGrace)
	overrideDur(&t.RequestTimeout, o.RequestTimeout)
}

func overrideDur(dst *time.Duration, v Duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}

func overrideInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
