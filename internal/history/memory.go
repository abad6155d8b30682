package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// DefaultMemorySamples is one day of samples at the default 30s interval.
const DefaultMemorySamples = 2880

// MemoryStore keeps the last N samples per host and every alert since start.
// Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	size    int
	metrics map[string]*ring[MetricSample]
	alerts  map[string]*AlertRecord
}

// NewMemoryStore creates a store holding up to samples entries per host.
func NewMemoryStore(samples int) *MemoryStore {
	if samples <= 0 {
		samples = DefaultMemorySamples
	}
	return &MemoryStore{
		size:    samples,
		metrics: make(map[string]*ring[MetricSample]),
		alerts:  make(map[string]*AlertRecord),
	}
}

func (m *MemoryStore) RecordSnapshot(_ context.Context, at time.Time, hosts []fleet.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range hosts {
		name := hosts[i].Hostname
		r, ok := m.metrics[name]
		if !ok {
			r = newRing[MetricSample](m.size)
			m.metrics[name] = r
		}
		r.push(SampleFromHost(at, &hosts[i]))
	}
	return nil
}

func (m *MemoryStore) SaveAlert(_ context.Context, alert fleet.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &AlertRecord{Alert: alert}
	if old, ok := m.alerts[alert.ID]; ok {
		rec.ClearedAt = old.ClearedAt
	}
	m.alerts[alert.ID] = rec
	return nil
}

func (m *MemoryStore) ClearAlert(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.alerts[id]; ok {
		at = at.UTC()
		rec.ClearedAt = &at
	}
	return nil
}

func (m *MemoryStore) AlertHistory(_ context.Context, host string, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRecord, 0)
	for _, rec := range m.alerts {
		if host != "" && rec.Host != host {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})

	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MetricsHistory(_ context.Context, host string, since time.Time) ([]MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MetricSample, 0)
	r, ok := m.metrics[host]
	if !ok {
		return out, nil
	}
	for _, s := range r.items() {
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) Cleanup(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for host, r := range m.metrics {
		removed += int64(r.retain(func(s MetricSample) bool { return !s.Timestamp.Before(cutoff) }))
		if r.len() == 0 {
			delete(m.metrics, host)
		}
	}
	for id, rec := range m.alerts {
		if rec.ClearedAt != nil && rec.ClearedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyRecord(rec *AlertRecord) AlertRecord {
	out := *rec
	if rec.AcknowledgedAt != nil {
		at := *rec.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if rec.ClearedAt != nil {
		at := *rec.ClearedAt
		out.ClearedAt = &at
	}
	return out
}
