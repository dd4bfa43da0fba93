// Package telemetry samples host and per-process metrics from /proc on a
// fixed cadence and hands each snapshot to a sink.
package telemetry

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/model"
)

// DefaultPeriod is the snapshot cadence.
const DefaultPeriod = 60 * time.Second

// DefaultTopProcesses bounds the per-process list in each snapshot.
const DefaultTopProcesses = 10

// Sink receives each completed snapshot.
type Sink func(model.TelemetrySnapshot)

// Config wires the collector.
type Config struct {
	NodeID       string
	NodeIP       string
	Period       time.Duration
	TopProcesses int
	RootMount    string
	Sink         Sink
	Log          zerolog.Logger
}

// Collector produces TelemetrySnapshots.
type Collector struct {
	cfg Config

	mu        sync.Mutex
	prevCPU   cpuTotals
	prevProcs map[int]uint64 // pid → cumulative ticks at last sample
	last      *model.TelemetrySnapshot
}

// New creates a collector. NodeID defaults to the hostname.
func New(cfg Config) *Collector {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.TopProcesses <= 0 {
		cfg.TopProcesses = DefaultTopProcesses
	}
	if cfg.RootMount == "" {
		cfg.RootMount = "/"
	}
	if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}
	return &Collector{cfg: cfg, prevProcs: make(map[int]uint64)}
}

// Run samples on the configured cadence until cancelled. The first
// snapshot fires after one period so CPU deltas have a real baseline.
func (c *Collector) Run(ctx context.Context) {
	// Prime the CPU baselines so the first real snapshot has a delta.
	c.mu.Lock()
	c.primeLocked()
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			if c.cfg.Sink != nil {
				c.cfg.Sink(snap)
			}
		}
	}
}

// primeLocked records the baseline readings. Caller holds mu.
func (c *Collector) primeLocked() {
	if cpu, err := readCPUTotals(); err == nil {
		c.prevCPU = cpu
	}
	if procs, err := listProcTicks(); err == nil {
		for _, p := range procs {
			c.prevProcs[p.pid] = p.ticks
		}
	}
}

// Snapshot takes one sample now. Individual probe failures degrade the
// snapshot (zeroed field, warning log) rather than failing it.
func (c *Collector) Snapshot() model.TelemetrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.TelemetrySnapshot{
		Timestamp: time.Now().UTC(),
		NodeID:    c.cfg.NodeID,
		NodeIP:    c.cfg.NodeIP,
	}

	curCPU, err := readCPUTotals()
	if err != nil {
		c.cfg.Log.Warn().Err(err).Msg("cpu sample failed")
	} else {
		snap.CPUPercent = cpuPercentBetween(c.prevCPU, curCPU)
	}

	memPct, memTotalKB, err := readMemoryPercent()
	if err != nil {
		c.cfg.Log.Warn().Err(err).Msg("memory sample failed")
	} else {
		snap.MemoryPercent = memPct
	}

	if diskPct, err := readDiskPercent(c.cfg.RootMount); err != nil {
		c.cfg.Log.Warn().Err(err).Msg("disk sample failed")
	} else {
		snap.DiskPercent = diskPct
	}

	if uptime, err := readUptimeSeconds(); err == nil {
		snap.UptimeSeconds = uptime
	}

	procs, err := listProcTicks()
	if err != nil {
		c.cfg.Log.Warn().Err(err).Msg("process walk failed")
	} else {
		snap.Processes = c.topProcessesLocked(procs, curCPU, memTotalKB)
	}

	c.prevCPU = curCPU
	c.prevProcs = make(map[int]uint64, len(procs))
	for _, p := range procs {
		c.prevProcs[p.pid] = p.ticks
	}
	c.last = &snap
	return snap
}

// Last returns the most recent snapshot, or nil before the first sample.
func (c *Collector) Last() *model.TelemetrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// topProcessesLocked ranks processes by CPU over the last interval.
// Caller holds mu.
func (c *Collector) topProcessesLocked(procs []procTicks, cpu cpuTotals, memTotalKB uint64) []model.ProcessSample {
	dCPU := cpu.total - c.prevCPU.total

	samples := make([]model.ProcessSample, 0, len(procs))
	for _, p := range procs {
		var cpuPct float64
		if prev, seen := c.prevProcs[p.pid]; seen && dCPU > 0 && p.ticks >= prev {
			cpuPct = 100 * float64(p.ticks-prev) / float64(dCPU)
		}
		var memPct float64
		if memTotalKB > 0 {
			memPct = 100 * float64(p.rssKB) / float64(memTotalKB)
		}
		samples = append(samples, model.ProcessSample{
			PID:           p.pid,
			Name:          p.name,
			CPUPercent:    cpuPct,
			MemoryPercent: memPct,
		})
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].CPUPercent != samples[j].CPUPercent {
			return samples[i].CPUPercent > samples[j].CPUPercent
		}
		return samples[i].MemoryPercent > samples[j].MemoryPercent
	})
	if len(samples) > c.cfg.TopProcesses {
		samples = samples[:c.cfg.TopProcesses]
	}
	return samples
}
