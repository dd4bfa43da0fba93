// Package supervisor owns the authoritative label → MonitoredFile map and
// one tailer goroutine per entry. Mutations come from the control plane or
// config reload; tailers observe their own removal cooperatively on the
// next poll rather than being torn down from outside.
package supervisor

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/config"
	"github.com/resolvix/collector/internal/metrics"
	"github.com/resolvix/collector/internal/model"
	"github.com/resolvix/collector/internal/tailer"
)

// LineHandler receives every complete line from every monitored file,
// along with the entry it came from. Called from the tailer goroutine;
// lines from one file arrive in file order.
type LineHandler func(f model.MonitoredFile, l tailer.Line)

// Config wires the supervisor.
type Config struct {
	Store   *config.Store
	Tuning  config.Tuning
	Handler LineHandler
	Log     zerolog.Logger
}

// Supervisor manages the live monitored set.
type Supervisor struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]model.MonitoredFile // label → entry
	byPath  map[string]string              // path → label
	tailers map[string]*tailer.Tailer      // label → running tailer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// AddResult reports a partial-success Add.
type AddResult struct {
	Added  []string
	Failed []FailedSpec
}

// FailedSpec names one rejected spec and why.
type FailedSpec struct {
	Path   string `json:"path"`
	Reason string `json:"error"`
}

// RemoveResult reports a partial-success Remove.
type RemoveResult struct {
	Removed      []string
	NotFound     []string
	CannotRemove []string
}

// New creates a supervisor with an empty live set.
func New(cfg Config) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		entries: make(map[string]model.MonitoredFile),
		byPath:  make(map[string]string),
		tailers: make(map[string]*tailer.Tailer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Bootstrap loads the persisted set and starts a tailer for each entry,
// then registers any auto-monitored extras that are not yet present.
func (s *Supervisor) Bootstrap(autos []model.MonitoredFile) error {
	f, err := s.cfg.Store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, mf := range f.Monitoring.LogFiles {
		if _, dup := s.entries[mf.Label]; dup {
			continue
		}
		s.registerLocked(mf)
	}
	for _, mf := range autos {
		if _, dup := s.entries[mf.Label]; dup {
			// Entry persisted from a previous run; keep it flagged.
			e := s.entries[mf.Label]
			e.AutoMonitor = true
			s.entries[mf.Label] = e
			continue
		}
		mf.AutoMonitor = true
		s.registerLocked(mf)
	}
	s.mu.Unlock()

	s.persist()
	return nil
}

// List snapshots the live set.
func (s *Supervisor) List() []model.MonitoredFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MonitoredFile, 0, len(s.entries))
	for _, mf := range s.entries {
		out = append(out, mf)
	}
	return out
}

// Add validates and registers each spec independently; one bad spec does
// not block the others. The persisted config is rewritten afterwards.
func (s *Supervisor) Add(specs []model.MonitoredFileSpec) AddResult {
	var res AddResult

	s.mu.Lock()
	for _, spec := range specs {
		mf, reason := s.validateLocked(spec)
		if reason != "" {
			res.Failed = append(res.Failed, FailedSpec{Path: spec.Path, Reason: reason})
			continue
		}
		s.registerLocked(mf)
		res.Added = append(res.Added, mf.Path)
	}
	s.mu.Unlock()

	if len(res.Added) > 0 {
		s.persist()
	}
	return res
}

// Remove drops the named labels. Auto-monitored entries are refused. The
// tailer goroutine notices its removal on its next poll and exits.
func (s *Supervisor) Remove(labels []string) RemoveResult {
	var res RemoveResult

	s.mu.Lock()
	for _, label := range labels {
		mf, ok := s.entries[label]
		switch {
		case !ok:
			res.NotFound = append(res.NotFound, label)
		case mf.AutoMonitor:
			res.CannotRemove = append(res.CannotRemove, label)
		default:
			delete(s.entries, label)
			delete(s.byPath, mf.Path)
			delete(s.tailers, label)
			res.Removed = append(res.Removed, label)
		}
	}
	s.mu.Unlock()

	if len(res.Removed) > 0 {
		s.persist()
	}
	return res
}

// Reload re-reads the persisted config and reconciles: new entries start
// tailing, existing ones keep their running tailer, entries absent from
// the file stop. Auto-monitored entries survive regardless.
func (s *Supervisor) Reload() error {
	f, err := s.cfg.Store.Load()
	if err != nil {
		return err
	}

	wanted := make(map[string]model.MonitoredFile, len(f.Monitoring.LogFiles))
	for _, mf := range f.Monitoring.LogFiles {
		wanted[mf.Label] = mf
	}

	s.mu.Lock()
	for label, mf := range s.entries {
		if _, keep := wanted[label]; !keep && !mf.AutoMonitor {
			delete(s.entries, label)
			delete(s.byPath, mf.Path)
			delete(s.tailers, label)
			s.cfg.Log.Info().Str("label", label).Msg("reload: entry removed")
		}
	}
	for label, mf := range wanted {
		if _, exists := s.entries[label]; exists {
			continue
		}
		if _, pathTaken := s.byPath[mf.Path]; pathTaken {
			continue
		}
		s.registerLocked(mf)
		s.cfg.Log.Info().Str("label", label).Msg("reload: entry added")
	}
	s.mu.Unlock()
	return nil
}

// Contains reports whether the label is still in the live set. Tailers
// use this as their deregistration check.
func (s *Supervisor) Contains(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[label]
	return ok
}

// PausedLabels lists entries whose tailer is waiting for a vanished file.
func (s *Supervisor) PausedLabels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for label, t := range s.tailers {
		if t.Paused() {
			out = append(out, label)
		}
	}
	return out
}

// Shutdown cancels every tailer and waits for them to exit.
func (s *Supervisor) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// registerLocked inserts the entry and spawns its tailer. Caller holds mu.
func (s *Supervisor) registerLocked(mf model.MonitoredFile) {
	s.entries[mf.Label] = mf
	s.byPath[mf.Path] = mf.Label

	t := tailer.New(tailer.Config{
		Path:           mf.Path,
		PollInterval:   s.cfg.Tuning.TailPollInterval,
		PausedInterval: s.cfg.Tuning.TailPausedInterval,
		ReopenAttempts: s.cfg.Tuning.TailReopenAttempts,
		StillWanted:    func() bool { return s.Contains(mf.Label) },
		Emit: func(l tailer.Line) {
			if s.cfg.Handler != nil {
				s.cfg.Handler(mf, l)
			}
		},
		Log: s.cfg.Log.With().Str("label", mf.Label).Logger(),
	})
	s.tailers[mf.Label] = t

	s.wg.Add(1)
	metrics.TailersActive.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.TailersActive.Dec()
		t.Run(s.ctx)
	}()
	s.cfg.Log.Info().Str("label", mf.Label).Str("path", mf.Path).Msg("monitoring file")
}

// persist rewrites the config file from the live set. Failure is logged,
// not rolled back: the in-memory set stays authoritative until the next
// successful write.
func (s *Supervisor) persist() {
	s.mu.RLock()
	f := config.File{}
	for _, mf := range s.entries {
		f.Monitoring.LogFiles = append(f.Monitoring.LogFiles, mf)
	}
	s.mu.RUnlock()

	if err := s.cfg.Store.Save(f); err != nil {
		s.cfg.Log.Error().Err(err).Msg("failed to persist monitored set")
	}
}

// validateLocked runs the ordered per-spec checks and, on success, builds
// the entry with a derived label and defaulted priority. Caller holds mu.
func (s *Supervisor) validateLocked(spec model.MonitoredFileSpec) (model.MonitoredFile, string) {
	if spec.Path == "" {
		return model.MonitoredFile{}, "Path is required"
	}
	if spec.Path[0] != '/' {
		return model.MonitoredFile{}, "Path must be absolute"
	}
	fi, err := os.Stat(spec.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.MonitoredFile{}, "File not found"
		}
		if os.IsPermission(err) {
			return model.MonitoredFile{}, "Permission denied"
		}
		return model.MonitoredFile{}, "File not found"
	}
	if !fi.Mode().IsRegular() {
		return model.MonitoredFile{}, "Not a regular file"
	}
	if f, err := os.Open(spec.Path); err != nil {
		return model.MonitoredFile{}, "Permission denied"
	} else {
		f.Close()
	}

	label := spec.Label
	if label != "" {
		if _, taken := s.entries[label]; taken {
			return model.MonitoredFile{}, "Label already exists: " + label
		}
	} else {
		label = s.deriveLabelLocked(spec.Path)
	}

	if _, monitored := s.byPath[spec.Path]; monitored {
		return model.MonitoredFile{}, "File already being monitored"
	}

	prio, ok := model.ParsePriority(spec.Priority)
	if !ok {
		return model.MonitoredFile{}, "Invalid priority: " + spec.Priority
	}

	return model.NewMonitoredFile(spec.Path, label, prio), ""
}
