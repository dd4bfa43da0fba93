package model

import "time"

// Priority classifies how urgent events from a monitored file are.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityRank maps priority to a comparable integer for filtering.
var PriorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// ParsePriority coerces a raw string to a Priority. Empty input defaults
// to medium; unknown input also reports false.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), true
	case "":
		return PriorityMedium, true
	}
	return PriorityMedium, false
}

// Severity is the classifier's verdict for a single log line.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityError    Severity = "error"
)

// MonitoredFile is one entry in the live monitored set.
type MonitoredFile struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Label        string    `json:"label"`
	Priority     Priority  `json:"priority"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	AutoMonitor  bool      `json:"auto_monitor"`
}

// MonitoredFileSpec is the operator-supplied request to monitor a file.
// Label and Priority are optional; validation and defaulting happen in
// the supervisor.
type MonitoredFileSpec struct {
	Path     string `json:"path"`
	Label    string `json:"label,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// LogEvent is an issue detected on a monitored file. Events live only as
// long as it takes to broadcast them and hand them to the ticket bus.
type LogEvent struct {
	Timestamp time.Time `json:"ts"`
	Label     string    `json:"label"`
	Path      string    `json:"path"`
	Priority  Priority  `json:"priority"`
	Severity  Severity  `json:"severity"`
	Line      string    `json:"line"`
	NodeIP    string    `json:"node_ip"`
}

// SuppressionRule mirrors one row of the externally-owned rule store.
type SuppressionRule struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	MatchText     string     `json:"match_text"`
	NodeIP        *string    `json:"node_ip"`
	DurationType  string     `json:"duration_type"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Enabled       bool       `json:"enabled"`
	MatchCount    int64      `json:"match_count"`
	LastMatchedAt *time.Time `json:"last_matched_at"`
}

// ActiveAt reports whether the rule applies at the given instant on the
// node with the given IP: enabled, not expired, and either node-agnostic
// or pinned to this node.
func (r SuppressionRule) ActiveAt(now time.Time, selfIP string) bool {
	if !r.Enabled {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	if r.NodeIP != nil && *r.NodeIP != selfIP {
		return false
	}
	return true
}

// ProcessSample is one process in a telemetry snapshot, ordered by CPU.
type ProcessSample struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// TelemetrySnapshot is one periodic host observation.
type TelemetrySnapshot struct {
	Timestamp     time.Time       `json:"ts"`
	NodeID        string          `json:"node_id"`
	NodeIP        string          `json:"node_ip"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	DiskPercent   float64         `json:"disk_percent"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Processes     []ProcessSample `json:"processes"`
}
