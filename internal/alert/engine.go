// Package alert turns fleet snapshots into a deduplicated set of live alerts.
//
// Each condition the engine checks has a Key. While the condition holds the
// same alert (same ID, same creation time, same acknowledgment) stays live;
// the first cycle it no longer holds, the alert is removed.
package alert

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

// Engine owns all live alerts. It is safe for concurrent use: the scheduler
// evaluates while HTTP handlers read and acknowledge.
type Engine struct {
	mu sync.RWMutex

	cfg             config.AlertConfig
	legacyThreshold time.Duration

	alerts map[string]*entry
	keys   map[Key]string
	seq    uint64

	now   func() time.Time
	newID func() string
	log   logger.Logger
}

// entry carries a creation sequence so alerts created within the same clock
// tick still sort in the order they were raised.
type entry struct {
	alert fleet.Alert
	seq   uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for creation and acknowledgment times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the short-UUID alert ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithLogger sets the logger for alert raise/clear events.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine with no live alerts. Sessions detached longer
// than legacyThreshold raise LEGACY alerts, and longer than twice it ANCIENT.
func NewEngine(cfg config.AlertConfig, legacyThreshold time.Duration, opts ...Option) *Engine {
	e := &Engine{
		cfg:             cfg,
		legacyThreshold: legacyThreshold,
		alerts:          make(map[string]*entry),
		keys:            make(map[Key]string),
		now:             func() time.Time { return time.Now().UTC() },
		newID:           ShortID,
		log:             logger.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShortID returns the first 8 characters of a random UUID.
func ShortID() string {
	return uuid.NewString()[:8]
}

// Enabled reports whether evaluation does anything.
func (e *Engine) Enabled() bool {
	return e.cfg.Enabled
}

// Evaluate checks every condition against hosts and returns all live alerts
// in display order. When alerting is disabled it returns an empty list and
// leaves state untouched.
//
// An OFFLINE host only has its offline condition checked. Its other alerts
// are neither re-raised nor cleared until it comes back.
func (e *Engine) Evaluate(hosts []fleet.Host) []fleet.Alert {
	if !e.cfg.Enabled {
		return []fleet.Alert{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range hosts {
		e.evaluateHost(&hosts[i])
	}

	return e.sortedLocked(true)
}

func (e *Engine) evaluateHost(h *fleet.Host) {
	name := h.Hostname

	offline := h.Status == fleet.HostOffline
	e.check(hostKey(fleet.AlertHostOffline, name), offline, fleet.SeverityCritical, func() string {
		return fmt.Sprintf("Host %s is offline", name)
	})
	if offline {
		return
	}

	e.check(hostKey(fleet.AlertHostHighCPU, name), h.CPUPercent >= e.cfg.HostCPUWarning, fleet.SeverityWarning, func() string {
		return fmt.Sprintf("Host %s CPU at %.1f%%", name, h.CPUPercent)
	})
	e.check(hostKey(fleet.AlertHostHighMemory, name), h.MemoryPercent >= e.cfg.HostMemoryWarning, fleet.SeverityWarning, func() string {
		return fmt.Sprintf("Host %s memory at %.1f%%", name, h.MemoryPercent)
	})

	for i := range h.GPUs {
		e.evaluateGPU(name, &h.GPUs[i])
	}
	for i := range h.Sessions {
		e.evaluateSession(name, &h.Sessions[i])
	}
}

func (e *Engine) evaluateGPU(host string, g *fleet.GPU) {
	critical := g.TemperatureC >= e.cfg.GPUTempCritical
	warning := g.TemperatureC >= e.cfg.GPUTempWarning && !critical

	e.check(gpuKey(fleet.AlertGPUTempCritical, host, g.Index), critical, fleet.SeverityCritical, func() string {
		return fmt.Sprintf("GPU %d (%s) temperature critical: %d°C", g.Index, g.Name, g.TemperatureC)
	})
	e.check(gpuKey(fleet.AlertGPUTempWarning, host, g.Index), warning, fleet.SeverityWarning, func() string {
		return fmt.Sprintf("GPU %d (%s) temperature high: %d°C", g.Index, g.Name, g.TemperatureC)
	})
	e.check(gpuKey(fleet.AlertGPUMemoryHigh, host, g.Index), g.MemoryPercent >= e.cfg.GPUMemoryWarning, fleet.SeverityWarning, func() string {
		return fmt.Sprintf("GPU %d VRAM at %.1f%%", g.Index, g.MemoryPercent)
	})
}

func (e *Engine) evaluateSession(host string, s *fleet.Session) {
	detached, _ := s.Detached()
	hours := detached.Hours()

	e.check(sessionKey(fleet.AlertLegacySession, host, s.Name), s.Status == fleet.SessionLegacy, fleet.SeverityWarning, func() string {
		return fmt.Sprintf("Session '%s' detached for %.0f hours", s.Name, hours)
	})
	e.check(sessionKey(fleet.AlertAncientSession, host, s.Name), detached > 2*e.legacyThreshold, fleet.SeverityCritical, func() string {
		return fmt.Sprintf("Session '%s' detached for %.0f hours (very old)", s.Name, hours)
	})
}

// check raises the alert for key if the condition holds and none is live,
// or clears it if the condition no longer holds. A live alert is left as is.
func (e *Engine) check(key Key, holds bool, severity fleet.Severity, message func() string) {
	id, live := e.keys[key]
	switch {
	case holds && !live:
		e.raise(key, severity, message())
	case !holds && live:
		delete(e.keys, key)
		delete(e.alerts, id)
		e.log.Info("alert %s cleared: %s", id, key)
	}
}

func (e *Engine) raise(key Key, severity fleet.Severity, message string) {
	id := e.newID()
	for _, taken := e.alerts[id]; taken; _, taken = e.alerts[id] {
		id = e.newID()
	}

	e.seq++
	e.alerts[id] = &entry{
		seq: e.seq,
		alert: fleet.Alert{
			ID:       id,
			Type:     key.Type,
			Severity: severity,
			Host:     key.Host,
			Session:  key.Qualifier,
			Message:  message,
			Created:  e.now(),
		},
	}
	e.keys[key] = id
	e.log.Info("alert %s raised: %s", id, message)
}

// Acknowledge marks the alert acknowledged and returns false if the ID is
// not live. Acknowledging twice keeps the first acknowledgment time. An
// acknowledged alert stays live until its condition clears.
func (e *Engine) Acknowledge(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.alerts[id]
	if !ok {
		return false
	}
	if !en.alert.Acknowledged {
		at := e.now()
		en.alert.Acknowledged = true
		en.alert.AcknowledgedAt = &at
	}
	return true
}

// Alerts returns live alerts in display order: critical, warning, info, then
// any other severity; oldest first within a severity.
func (e *Engine) Alerts(includeAcknowledged bool) []fleet.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedLocked(includeAcknowledged)
}

// Alert returns a copy of the live alert with id.
func (e *Engine) Alert(id string) (fleet.Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	en, ok := e.alerts[id]
	if !ok {
		return fleet.Alert{}, false
	}
	return copyAlert(en.alert), true
}

// UnacknowledgedCount returns the number of live alerts nobody has acknowledged.
func (e *Engine) UnacknowledgedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, en := range e.alerts {
		if !en.alert.Acknowledged {
			n++
		}
	}
	return n
}

// CriticalCount returns the number of unacknowledged critical alerts.
func (e *Engine) CriticalCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, en := range e.alerts {
		if en.alert.Severity == fleet.SeverityCritical && !en.alert.Acknowledged {
			n++
		}
	}
	return n
}

func (e *Engine) sortedLocked(includeAcknowledged bool) []fleet.Alert {
	entries := make([]*entry, 0, len(e.alerts))
	for _, en := range e.alerts {
		if !includeAcknowledged && en.alert.Acknowledged {
			continue
		}
		entries = append(entries, en)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ra, rb := a.alert.Severity.Rank(), b.alert.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if !a.alert.Created.Equal(b.alert.Created) {
			return a.alert.Created.Before(b.alert.Created)
		}
		return a.seq < b.seq
	})

	out := make([]fleet.Alert, len(entries))
	for i, en := range entries {
		out[i] = copyAlert(en.alert)
	}
	return out
}

func copyAlert(a fleet.Alert) fleet.Alert {
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		a.AcknowledgedAt = &at
	}
	return a
}
