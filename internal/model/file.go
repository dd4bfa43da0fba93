package model

import (
	"time"

	"github.com/google/uuid"
)

// NewMonitoredFile builds a live entry from a validated spec. The ID is
// opaque and stable for the lifetime of the entry, surviving restarts via
// the persisted config.
func NewMonitoredFile(path, label string, priority Priority) MonitoredFile {
	now := time.Now().UTC()
	return MonitoredFile{
		ID:           uuid.NewString(),
		Path:         path,
		Label:        label,
		Priority:     priority,
		Enabled:      true,
		CreatedAt:    now,
		LastModified: now,
	}
}
