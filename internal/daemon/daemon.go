// Package daemon assembles the collector: tailers feeding the classifier
// and suppression engine, the telemetry pipeline into the durable outbox,
// the streaming hubs, and the HTTP control plane.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/classify"
	"github.com/resolvix/collector/internal/config"
	"github.com/resolvix/collector/internal/metrics"
	"github.com/resolvix/collector/internal/model"
	"github.com/resolvix/collector/internal/outbox"
	"github.com/resolvix/collector/internal/server"
	"github.com/resolvix/collector/internal/stream"
	"github.com/resolvix/collector/internal/supervisor"
	"github.com/resolvix/collector/internal/suppress"
	"github.com/resolvix/collector/internal/tailer"
	"github.com/resolvix/collector/internal/telemetry"
	"github.com/resolvix/collector/internal/ticket"
)

// AutoMonitorLabel names the daemon's own log entry, which the control
// plane may not remove.
const AutoMonitorLabel = "resolvix_daemon"

// Config holds full daemon configuration.
type Config struct {
	LogFile             string // initial bootstrap file, optional
	DaemonLogPath       string // the daemon's own log; auto-monitored when set
	APIURL              string // ticket bus
	TelemetryBackendURL string
	TelemetryToken      string
	DB                  suppress.DBConfig
	ConfigPath          string
	ControlPort         int
	Tuning              config.Tuning
	Log                 zerolog.Logger
}

// Daemon owns every long-lived component. The control plane holds the
// only externally reachable handle.
type Daemon struct {
	cfg    Config
	nodeIP string

	store     *config.Store
	sup       *supervisor.Supervisor
	engine    *suppress.Engine
	ruleStore suppress.Store
	queue     *outbox.Queue
	sender    *outbox.Sender
	collector *telemetry.Collector
	tickets   *ticket.Publisher
	logHub    *stream.Hub[stream.EventMessage]
	telemHub  *stream.Hub[stream.TelemetryMessage]
	logs      *stream.LogStreamServer
	telems    *stream.TelemetryStreamServer
	control   *server.Server
}

// New validates configuration and builds the component graph. Nothing
// starts running until Run.
func New(cfg Config) (*Daemon, error) {
	if cfg.TelemetryBackendURL == "" {
		return nil, fmt.Errorf("telemetry backend URL is required")
	}
	if cfg.ControlPort == 0 {
		cfg.ControlPort = server.DefaultPort
	}

	d := &Daemon{cfg: cfg, nodeIP: detectNodeIP()}
	d.store = config.NewStore(cfg.ConfigPath)

	log := cfg.Log

	if cfg.DB.Complete() {
		rs, err := suppress.OpenStore(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open rule store: %w", err)
		}
		d.ruleStore = rs
	} else {
		log.Info().Msg("rule store not configured, suppression disabled")
	}
	d.engine = suppress.NewEngine(d.ruleStore, d.nodeIP, cfg.Tuning.RuleCacheTTL,
		log.With().Str("component", "suppress").Logger())

	q, err := outbox.Open(cfg.Tuning.OutboxPath, cfg.Tuning.OutboxMaxQueue)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	d.queue = q

	d.sender = outbox.NewSender(q, outbox.SenderConfig{
		URL:          cfg.TelemetryBackendURL + "/api/telemetry/snapshot",
		Token:        cfg.TelemetryToken,
		IdleInterval: cfg.Tuning.OutboxIdleInterval,
		PostTimeout:  cfg.Tuning.OutboxPostTimeout,
		BackoffBase:  cfg.Tuning.OutboxBackoffBase,
		BackoffMax:   cfg.Tuning.OutboxBackoffMax,
		MaxAttempts:  cfg.Tuning.OutboxMaxAttempts,
		Log:          log.With().Str("component", "outbox").Logger(),
	})

	d.tickets = ticket.New(cfg.APIURL, log.With().Str("component", "ticket").Logger())

	d.logHub = stream.NewHub[stream.EventMessage]("logs",
		cfg.Tuning.StreamSubscriberBuffer, cfg.Tuning.StreamReplayRing)
	d.telemHub = stream.NewHub[stream.TelemetryMessage]("telemetry",
		cfg.Tuning.StreamSubscriberBuffer, 0)

	d.collector = telemetry.New(telemetry.Config{
		NodeIP:       d.nodeIP,
		Period:       cfg.Tuning.TelemetryPeriod,
		TopProcesses: cfg.Tuning.TopProcesses,
		Sink:         d.onSnapshot,
		Log:          log.With().Str("component", "telemetry").Logger(),
	})

	d.sup = supervisor.New(supervisor.Config{
		Store:   d.store,
		Tuning:  cfg.Tuning,
		Handler: d.onLine,
		Log:     log.With().Str("component", "supervisor").Logger(),
	})

	d.logs = stream.NewLogStreamServer(d.logHub, cfg.Tuning.LogsPort,
		cfg.Tuning.StreamHeartbeatPeriod, log.With().Str("component", "logstream").Logger())
	d.telems = stream.NewTelemetryStreamServer(d.telemHub, cfg.Tuning.TelemetryPort,
		cfg.Tuning.StreamHeartbeatPeriod, log.With().Str("component", "telemetrystream").Logger())

	d.control = server.New(server.Config{
		Port:           cfg.ControlPort,
		RequestTimeout: cfg.Tuning.RequestTimeout,
		Supervisor:     d.sup,
		Suppress:       d.engine,
		Store:          d.store,
		Collector:      d.collector,
		LogHub:         d.logHub,
		Outbox:         d.queue,
		Tickets:        d.tickets,
		NodeIP:         d.nodeIP,
		Log:            log.With().Str("component", "control").Logger(),
	})

	return d, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// fatal error occurs (control port bind failure, unreadable config).
func (d *Daemon) Run(ctx context.Context) error {
	pidPath := filepath.Join(filepath.Dir(d.cfg.Tuning.OutboxPath), "resolvix.pid")
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer os.Remove(pidPath)
	defer d.queue.Close()
	if d.ruleStore != nil {
		defer d.ruleStore.Close()
	}

	if err := d.sup.Bootstrap(d.autoEntries()); err != nil {
		return fmt.Errorf("load initial config: %w", err)
	}
	d.bootstrapLogFile()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	fatal := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.sender.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.collector.Run(runCtx)
	}()

	reloader, err := NewReloader(d.store.Path(), func() {
		if err := d.sup.Reload(); err != nil {
			d.cfg.Log.Warn().Err(err).Msg("config hot-reload failed")
		}
	})
	if err != nil {
		d.cfg.Log.Warn().Err(err).Msg("config hot-reload disabled")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reloader.Run(runCtx)
		}()
	}

	go func() {
		if err := d.logs.ListenAndServe(); err != nil {
			fatal <- fmt.Errorf("log stream listener: %w", err)
		}
	}()
	go func() {
		if err := d.telems.ListenAndServe(); err != nil {
			fatal <- fmt.Errorf("telemetry stream listener: %w", err)
		}
	}()
	go func() {
		if err := d.control.ListenAndServe(); err != nil {
			fatal <- fmt.Errorf("control plane listener: %w", err)
		}
	}()

	d.cfg.Log.Info().
		Int("control_port", d.cfg.ControlPort).
		Int("logs_port", d.cfg.Tuning.LogsPort).
		Int("telemetry_port", d.cfg.Tuning.TelemetryPort).
		Str("node_ip", d.nodeIP).
		Msg("collector running")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-fatal:
		d.cfg.Log.Error().Err(runErr).Msg("fatal component failure")
	}

	// Shutdown: stop accepting, cancel workers, drain within the grace
	// period, then let deferred cleanup close files.
	grace, graceCancel := context.WithTimeout(context.Background(), d.cfg.Tuning.ShutdownGrace)
	defer graceCancel()

	d.control.Shutdown(grace)
	d.logs.Shutdown(grace)
	d.telems.Shutdown(grace)
	cancel()
	d.sup.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-grace.Done():
		d.cfg.Log.Warn().Msg("shutdown grace period expired")
	}

	return runErr
}

// onLine is the per-line pipeline: classify, suppress, publish,
// broadcast. Runs on the tailer goroutine, so a single file's events
// reach the broadcast hub in file order; ticket publication is
// asynchronous and its order is not guaranteed.
func (d *Daemon) onLine(mf model.MonitoredFile, l tailer.Line) {
	isIssue, severity := classify.Classify(l.Text)
	if !isIssue {
		return
	}
	metrics.EventsTotal.WithLabelValues(string(severity)).Inc()

	if v := d.engine.ShouldSuppress(l.Text); v.Suppressed {
		metrics.SuppressedTotal.Inc()
		d.cfg.Log.Debug().Str("label", mf.Label).Int64("rule_id", v.RuleID).Msg("event suppressed")
		return
	}

	ev := model.LogEvent{
		Timestamp: l.DetectedAt,
		Label:     mf.Label,
		Path:      mf.Path,
		Priority:  mf.Priority,
		Severity:  severity,
		Line:      l.Text,
		NodeIP:    d.nodeIP,
	}
	d.tickets.Publish(ev)
	d.logHub.Publish(stream.NewEventMessage(ev))
}

// onSnapshot fans a telemetry snapshot out to live subscribers and into
// the durable outbox.
func (d *Daemon) onSnapshot(snap model.TelemetrySnapshot) {
	d.telemHub.Publish(stream.TelemetryMessage{
		Kind:     "telemetry",
		TS:       snap.Timestamp,
		Snapshot: snap,
	})

	payload, err := json.Marshal(snap)
	if err != nil {
		d.cfg.Log.Error().Err(err).Msg("marshal snapshot")
		return
	}
	if err := d.queue.Enqueue(payload); err != nil {
		d.cfg.Log.Error().Err(err).Msg("enqueue snapshot")
	}
}

// autoEntries builds the auto-monitored set: the daemon's own log, when
// one is configured.
func (d *Daemon) autoEntries() []model.MonitoredFile {
	if d.cfg.DaemonLogPath == "" {
		return nil
	}
	return []model.MonitoredFile{
		model.NewMonitoredFile(d.cfg.DaemonLogPath, AutoMonitorLabel, model.PriorityCritical),
	}
}

// bootstrapLogFile registers the --log-file flag's target as an ordinary
// monitored entry. Already-monitored is fine: the operator may have
// persisted it on a previous run.
func (d *Daemon) bootstrapLogFile() {
	if d.cfg.LogFile == "" {
		return
	}
	res := d.sup.Add([]model.MonitoredFileSpec{{Path: d.cfg.LogFile}})
	for _, f := range res.Failed {
		if f.Reason == "File already being monitored" {
			continue
		}
		d.cfg.Log.Warn().Str("path", f.Path).Str("reason", f.Reason).Msg("bootstrap file not monitored")
	}
}

// acquirePIDLock refuses to start while another live daemon holds the
// PID file. A stale file from a dead process is reclaimed.
func acquirePIDLock(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(string(data))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another collector is running (PID %d)", pid)
				}
			}
		}
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// detectNodeIP finds the primary outbound IPv4 without sending traffic.
func detectNodeIP() string {
	conn, err := net.Dial("udp", "255.255.255.255:1")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
