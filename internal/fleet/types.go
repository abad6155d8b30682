// Package fleet holds the snapshot data model shared by the collector, the
// alert engine, the history store and the HTTP API. Field names in the JSON
// tags are the wire format consumed by viewers and persistence.
package fleet

import "time"

// HostStatus is the reachability classification of a host for one cycle.
type HostStatus string

const (
	HostOnline   HostStatus = "online"
	HostOffline  HostStatus = "offline"
	HostDegraded HostStatus = "degraded"
)

// SessionStatus is derived from attachment and idle time.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionLegacy SessionStatus = "legacy"
)

// Host is the per-cycle snapshot of one configured machine.
// It is rebuilt from scratch every polling cycle.
type Host struct {
	Hostname      string      `json:"hostname"`
	Address       string      `json:"address"`
	HasGPU        bool        `json:"has_gpu"`
	Tags          []string    `json:"tags"`
	Status        HostStatus  `json:"status"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryUsedMB  int64       `json:"memory_used_mb"`
	MemoryTotalMB int64       `json:"memory_total_mb"`
	MemoryPercent float64     `json:"memory_percent"`
	LoadAvg       *[3]float64 `json:"load_avg"` // nil when unknown
	Sessions      []Session   `json:"sessions"`
	GPUs          []GPU       `json:"gpus"`
	LastSeen      *time.Time  `json:"last_seen"`
}

// Session is one tmux session on a host. ID is "hostname:name".
type Session struct {
	ID              string        `json:"id"`
	Host            string        `json:"host"`
	Name            string        `json:"name"`
	Created         *time.Time    `json:"created"`
	LastActivity    *time.Time    `json:"last_activity"`
	Attached        bool          `json:"attached"`
	WindowCount     int           `json:"window_count"`
	Status          SessionStatus `json:"status"`
	DetachedSeconds *float64      `json:"detached_seconds"` // nil when attached or activity unknown
}

// GPU is one device reported by nvidia-smi, identified by its index on the host.
type GPU struct {
	Index              int          `json:"index"`
	Name               string       `json:"name"`
	PowerDrawWatts     float64      `json:"power_draw_watts"`
	PowerLimitWatts    float64      `json:"power_limit_watts"`
	MemoryUsedMB       int64        `json:"memory_used_mb"`
	MemoryTotalMB      int64        `json:"memory_total_mb"`
	MemoryPercent      float64      `json:"memory_percent"`
	UtilizationPercent int          `json:"utilization_percent"`
	TemperatureC       int          `json:"temperature_c"`
	Processes          []GPUProcess `json:"processes"`
}

// GPUProcess is a compute process holding GPU memory.
type GPUProcess struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	MemoryMB int64  `json:"memory_mb"`
}

// SessionID builds the fleet-wide session identity.
func SessionID(host, name string) string {
	return host + ":" + name
}

// MemoryPercentOf returns used/total as a percentage, 0 when total is unknown.
func MemoryPercentOf(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// Online reports whether the host answered this cycle.
func (h *Host) Online() bool {
	return h.Status == HostOnline
}

// Session returns the session with the given name, or nil.
func (h *Host) Session(name string) *Session {
	for i := range h.Sessions {
		if h.Sessions[i].Name == name {
			return &h.Sessions[i]
		}
	}
	return nil
}

// PrimaryGPU returns the first GPU, or nil when the host has none.
func (h *Host) PrimaryGPU() *GPU {
	if len(h.GPUs) == 0 {
		return nil
	}
	return &h.GPUs[0]
}

// Detached returns how long the session has been detached, and false when unknown.
func (s *Session) Detached() (time.Duration, bool) {
	if s.DetachedSeconds == nil {
		return 0, false
	}
	return time.Duration(*s.DetachedSeconds * float64(time.Second)), true
}

// Clone returns a deep copy, so a reader can't alias the scheduler's snapshot.
func (h Host) Clone() Host {
	out := h
	out.Tags = make([]string, len(h.Tags))
	copy(out.Tags, h.Tags)
	if h.LoadAvg != nil {
		load := *h.LoadAvg
		out.LoadAvg = &load
	}
	if h.LastSeen != nil {
		seen := *h.LastSeen
		out.LastSeen = &seen
	}
	out.Sessions = make([]Session, len(h.Sessions))
	copy(out.Sessions, h.Sessions)
	out.GPUs = make([]GPU, len(h.GPUs))
	for i, g := range h.GPUs {
		procs := make([]GPUProcess, len(g.Processes))
		copy(procs, g.Processes)
		g.Processes = procs
		out.GPUs[i] = g
	}
	return out
}

// CloneHosts deep-copies a snapshot. A nil input yields an empty slice.
func CloneHosts(hosts []Host) []Host {
	out := make([]Host, len(hosts))
	for i := range hosts {
		out[i] = hosts[i].Clone()
	}
	return out
}
