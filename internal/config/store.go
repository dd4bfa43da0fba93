// Package config owns the collector's on-disk state: the persisted
// monitored-file set (JSON) and the optional tuning overrides (YAML).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/resolvix/collector/internal/model"
)

// DefaultPath is where the monitored-set config lives unless overridden.
const DefaultPath = "/etc/resolvix/config.json"

// File is the persisted config schema.
type File struct {
	Monitoring Monitoring `json:"monitoring"`
}

// Monitoring holds the monitored-file set.
type Monitoring struct {
	LogFiles []model.MonitoredFile `json:"log_files"`
}

// Store reads and writes the persisted config at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store for the given path.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted config. A missing file is an empty set, not
// an error.
func (s *Store) Load() (File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	return f, nil
}

// Save writes the config atomically: tmp file, fsync, rename.
func (s *Store) Save(f File) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}
