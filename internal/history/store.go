// Package history persists what the dashboard has seen: per-host metric
// samples for trend graphs and a log of every alert raised, acknowledged and
// cleared. The in-memory store keeps a bounded window per host; the GORM
// store writes to SQLite or MySQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

// DefaultAlertLimit caps AlertHistory when the caller passes no limit.
const DefaultAlertLimit = 100

// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
const DefaultSQLitePath = "fleetdash.db"

// Store is the persistence boundary for the scheduler and the HTTP API.
type Store interface {
	// RecordSnapshot writes one sample per host, all stamped with at.
	RecordSnapshot(ctx context.Context, at time.Time, hosts []fleet.Host) error
	// SaveAlert inserts or updates an alert by ID. It never touches ClearedAt.
	SaveAlert(ctx context.Context, alert fleet.Alert) error
	// ClearAlert stamps the alert as cleared. Unknown IDs are ignored.
	ClearAlert(ctx context.Context, id string, at time.Time) error
	// AlertHistory returns alerts newest first, optionally for one host.
	AlertHistory(ctx context.Context, host string, limit int) ([]AlertRecord, error)
	// MetricsHistory returns a host's samples after since, oldest first.
	MetricsHistory(ctx context.Context, host string, since time.Time) ([]MetricSample, error)
	// Cleanup deletes samples older than cutoff and alerts cleared before it.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MetricSample is one host's headline metrics at one point in time. GPU
// fields describe the primary GPU and are nil on hosts without one.
type MetricSample struct {
	Timestamp        time.Time `json:"timestamp"`
	Host             string    `json:"host"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	GPUTemp          *int      `json:"gpu_temp"`
	GPUUtil          *int      `json:"gpu_util"`
	GPUMemoryPercent *float64  `json:"gpu_memory_percent"`
	SessionCount     int       `json:"session_count"`
}

// AlertRecord is an alert as persisted, with the time it stopped holding.
type AlertRecord struct {
	fleet.Alert
	ClearedAt *time.Time `json:"cleared_at"`
}

// SampleFromHost extracts the persisted metrics from a snapshot entry.
func SampleFromHost(at time.Time, h *fleet.Host) MetricSample {
	s := MetricSample{
		Timestamp:     at.UTC(),
		Host:          h.Hostname,
		CPUPercent:    h.CPUPercent,
		MemoryPercent: h.MemoryPercent,
		SessionCount:  len(h.Sessions),
	}
	if gpu := h.PrimaryGPU(); gpu != nil {
		temp, util, mem := gpu.TemperatureC, gpu.UtilizationPercent, gpu.MemoryPercent
		s.GPUTemp = &temp
		s.GPUUtil = &util
		s.GPUMemoryPercent = &mem
	}
	return s
}

// Open creates the store selected by cfg.Driver.
func Open(cfg config.HistoryConfig, log logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryStore(cfg.MemorySamples), nil
	case config.DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		return OpenSQLite(dsn, log)
	case config.DriverMySQL:
		return OpenMySQL(cfg.DSN, log)
	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown history driver '%s'", cfg.Driver),
			"Use one of: memory, sqlite, mysql")
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultAlertLimit
	}
	return limit
}

func storeError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrStore, "History store failed to "+op, "")
}
