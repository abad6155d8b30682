package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testHosts() []fleet.Host {
	return []fleet.Host{
		{
			Hostname:      "gpu-01",
			Status:        fleet.HostOnline,
			CPUPercent:    40,
			MemoryPercent: 55.5,
			Sessions:      []fleet.Session{{Name: "a"}, {Name: "b"}},
			GPUs: []fleet.GPU{
				{Index: 0, TemperatureC: 70, UtilizationPercent: 99, MemoryPercent: 80},
				{Index: 1, TemperatureC: 30},
			},
		},
		{Hostname: "cpu-01", Status: fleet.HostOffline},
	}
}

func testAlert(id, host string, created time.Time) fleet.Alert {
	return fleet.Alert{
		ID:       id,
		Type:     fleet.AlertHostHighCPU,
		Severity: fleet.SeverityWarning,
		Host:     host,
		Message:  "Host " + host + " CPU at 95.0%",
		Created:  created,
	}
}

// storeContract runs the behavior every Store must share.
func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("snapshot round trip", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordSnapshot(ctx, base, testHosts()))
		require.NoError(t, s.RecordSnapshot(ctx, base.Add(time.Minute), testHosts()))

		got, err := s.MetricsHistory(ctx, "gpu-01", base.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Timestamp.Equal(base))
		assert.True(t, got[1].Timestamp.Equal(base.Add(time.Minute)))

		first := got[0]
		assert.Equal(t, "gpu-01", first.Host)
		assert.Equal(t, 40.0, first.CPUPercent)
		assert.Equal(t, 55.5, first.MemoryPercent)
		assert.Equal(t, 2, first.SessionCount)
		require.NotNil(t, first.GPUTemp)
		assert.Equal(t, 70, *first.GPUTemp, "primary GPU only")
		require.NotNil(t, first.GPUUtil)
		assert.Equal(t, 99, *first.GPUUtil)
		require.NotNil(t, first.GPUMemoryPercent)
		assert.Equal(t, 80.0, *first.GPUMemoryPercent)

		cpu, err := s.MetricsHistory(ctx, "cpu-01", base.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, cpu, 2)
		assert.Nil(t, cpu[0].GPUTemp)

		later, err := s.MetricsHistory(ctx, "gpu-01", base)
		require.NoError(t, err)
		assert.Len(t, later, 1, "since is exclusive")

		none, err := s.MetricsHistory(ctx, "nope", time.Time{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("empty snapshot", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.RecordSnapshot(ctx, base, nil))
	})

	t.Run("alerts save ack clear", func(t *testing.T) {
		s := open(t)
		a := testAlert("a1", "gpu-01", base)
		require.NoError(t, s.SaveAlert(ctx, a))

		ackAt := base.Add(time.Minute)
		a.Acknowledged = true
		a.AcknowledgedAt = &ackAt
		require.NoError(t, s.SaveAlert(ctx, a))

		require.NoError(t, s.ClearAlert(ctx, "a1", base.Add(time.Hour)))
		// Saving again must not reset cleared_at.
		require.NoError(t, s.SaveAlert(ctx, a))
		require.NoError(t, s.ClearAlert(ctx, "unknown", base))

		got, err := s.AlertHistory(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID)
		assert.Equal(t, fleet.AlertHostHighCPU, got[0].Type)
		assert.Equal(t, fleet.SeverityWarning, got[0].Severity)
		assert.True(t, got[0].Acknowledged)
		require.NotNil(t, got[0].AcknowledgedAt)
		assert.True(t, got[0].AcknowledgedAt.Equal(ackAt))
		require.NotNil(t, got[0].ClearedAt)
		assert.True(t, got[0].ClearedAt.Equal(base.Add(time.Hour)))
	})

	t.Run("alert history order filter limit", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveAlert(ctx, testAlert("old", "a", base)))
		require.NoError(t, s.SaveAlert(ctx, testAlert("mid", "b", base.Add(time.Minute))))
		require.NoError(t, s.SaveAlert(ctx, testAlert("new", "a", base.Add(2*time.Minute))))

		all, err := s.AlertHistory(ctx, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

		hostA, err := s.AlertHistory(ctx, "a", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "old"}, ids(hostA))

		limited, err := s.AlertHistory(ctx, "", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, ids(limited))
	})

	t.Run("cleanup", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordSnapshot(ctx, base, testHosts()))
		require.NoError(t, s.RecordSnapshot(ctx, base.Add(48*time.Hour), testHosts()))

		require.NoError(t, s.SaveAlert(ctx, testAlert("cleared-old", "a", base)))
		require.NoError(t, s.ClearAlert(ctx, "cleared-old", base.Add(time.Hour)))
		require.NoError(t, s.SaveAlert(ctx, testAlert("live-old", "a", base)))
		require.NoError(t, s.SaveAlert(ctx, testAlert("cleared-new", "a", base)))
		require.NoError(t, s.ClearAlert(ctx, "cleared-new", base.Add(47*time.Hour)))

		removed, err := s.Cleanup(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed, "two old samples and one cleared alert")

		samples, err := s.MetricsHistory(ctx, "gpu-01", time.Time{})
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.True(t, samples[0].Timestamp.Equal(base.Add(48*time.Hour)))

		alerts, err := s.AlertHistory(ctx, "", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"live-old", "cleared-new"}, ids(alerts))
	})
}

func ids(recs []AlertRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore(100) })
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "history.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_BoundedPerHost(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordSnapshot(ctx, base.Add(time.Duration(i)*time.Minute), testHosts()))
	}

	got, err := s.MetricsHistory(ctx, "gpu-01", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Minute)))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.SaveAlert(ctx, testAlert("a", "h", base)))
	require.NoError(t, s.ClearAlert(ctx, "a", base))

	got, _ := s.AlertHistory(ctx, "", 0)
	*got[0].ClearedAt = time.Time{}

	again, _ := s.AlertHistory(ctx, "", 0)
	assert.True(t, again[0].ClearedAt.Equal(base))
}

func TestSampleFromHost(t *testing.T) {
	h := testHosts()[1]
	s := SampleFromHost(base.In(time.FixedZone("X", 3600)), &h)
	assert.Equal(t, time.UTC, s.Timestamp.Location())
	assert.Equal(t, "cpu-01", s.Host)
	assert.Nil(t, s.GPUUtil)
	assert.Equal(t, 0, s.SessionCount)
}

func TestOpen(t *testing.T) {
	s, err := Open(config.HistoryConfig{Driver: config.DriverMemory, MemorySamples: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(config.HistoryConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "h.db")
	s, err = Open(config.HistoryConfig{Driver: config.DriverSQLite, DSN: path}, nil)
	require.NoError(t, err)
	assert.IsType(t, &GormStore{}, s)
	assert.FileExists(t, path)
	require.NoError(t, s.Close())

	_, err = Open(config.HistoryConfig{Driver: config.DriverMySQL}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	_, err = Open(config.HistoryConfig{Driver: "postgres"}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestRing(t *testing.T) {
	r := newRing[int](3)
	assert.Empty(t, r.items())

	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.items())
	assert.Equal(t, 3, r.len())

	dropped := r.retain(func(v int) bool { return v != 4 })
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []int{3, 5}, r.items())

	r.push(6)
	r.push(7)
	assert.Equal(t, []int{5, 6, 7}, r.items())

	assert.Equal(t, 1, len(newRing[int](0).data))
}
