package fleet

import "time"

// AlertType enumerates the condition kinds the alert engine evaluates.
type AlertType string

const (
	AlertHostOffline     AlertType = "host_offline"
	AlertHostHighCPU     AlertType = "host_high_cpu"
	AlertHostHighMemory  AlertType = "host_high_memory"
	AlertGPUTempWarning  AlertType = "gpu_temp_warning"
	AlertGPUTempCritical AlertType = "gpu_temp_critical"
	AlertGPUMemoryHigh   AlertType = "gpu_memory_high"
	AlertLegacySession   AlertType = "legacy_session"
	AlertAncientSession  AlertType = "ancient_session"
)

// Severity of an alert. Lower Rank sorts first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities: critical, warning, info, then anything unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Alert is a live alert condition. ID is stable for as long as the condition holds.
type Alert struct {
	ID             string     `json:"id"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Host           string     `json:"host"`
	Session        string     `json:"session,omitempty"` // session name or resource qualifier like "gpu0"
	Message        string     `json:"message"`
	Created        time.Time  `json:"created"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
}

// AckEvent is the incremental push payload for an acknowledgment.
type AckEvent struct {
	ID string `json:"id"`
}
