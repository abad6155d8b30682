package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetdash/internal/alert"
	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/history"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/scheduler"
	sshtest "github.com/rileyhilliard/fleetdash/pkg/sshutil/testing"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubCollector struct {
	mu    sync.Mutex
	hosts []fleet.Host
	calls int
}

func (c *stubCollector) CollectAll(_ context.Context, _ []config.HostConfig) []fleet.Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return fleet.CloneHosts(c.hosts)
}

func (c *stubCollector) set(hosts ...fleet.Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = hosts
}

func (c *stubCollector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	srv       *Server
	sched     *scheduler.Scheduler
	collector *stubCollector
	store     *history.MemoryStore
	dialer    *sshtest.FakeDialer
	log       *logger.BufferLogger
}

func legacySeconds() *float64 {
	v := float64(100 * 3600)
	return &v
}

func fixtureHosts() []fleet.Host {
	seen := testNow
	return []fleet.Host{
		{
			Hostname: "gpu-01", Address: "10.0.0.1", HasGPU: true, Tags: []string{"train"},
			Status: fleet.HostOnline, CPUPercent: 95, MemoryPercent: 40, LastSeen: &seen,
			Sessions: []fleet.Session{
				{ID: "gpu-01:train", Host: "gpu-01", Name: "train", Attached: true, Status: fleet.SessionActive},
				{ID: "gpu-01:old", Host: "gpu-01", Name: "old", Status: fleet.SessionLegacy, DetachedSeconds: legacySeconds()},
			},
			GPUs: []fleet.GPU{},
		},
		{
			Hostname: "cpu-01", Address: "10.0.0.2", Tags: []string{},
			Status: fleet.HostOffline, ErrorMessage: "Can't reach '10.0.0.2'",
			Sessions: []fleet.Session{}, GPUs: []fleet.GPU{},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.RefreshRatePerMinute = 0
	cfg.SSH.Timeout = 1
	cfg.SSH.CommandTimeout = 1
	cfg.Hosts = []config.HostConfig{
		{Name: "gpu-01", Address: "10.0.0.1", HasGPU: true, Tags: []string{"train"}},
		{Name: "cpu-01", Address: "10.0.0.2"},
	}

	collector := &stubCollector{}
	collector.set(fixtureHosts()...)

	now := func() time.Time { return testNow }
	store := history.NewMemoryStore(100)
	engine := alert.NewEngine(cfg.Alerts, cfg.LegacyThreshold(), alert.WithClock(now))
	sched := scheduler.New(collector, engine, store, scheduler.Options{
		Hosts:  cfg.Hosts,
		Now:    now,
		Logger: logger.Noop(),
	})

	dialer := sshtest.NewFakeDialer()
	log := logger.NewBufferLogger()
	srv := New(Options{
		Config:    cfg,
		Scheduler: sched,
		Dialer:    dialer,
		Version:   "1.2.3",
		PoolSize:  func() int { return 2 },
		Now:       now,
		Logger:    log,
	})
	sched.Refresh(context.Background())

	return &testEnv{srv: srv, sched: sched, collector: collector, store: store, dialer: dialer, log: log}
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.EqualValues(t, 0, body["uptime_seconds"])
	assert.EqualValues(t, 1, body["hosts_online"])
	assert.EqualValues(t, 2, body["hosts_total"])
	assert.EqualValues(t, 2, body["sessions_total"])
	// offline (critical), high cpu and legacy session (warning)
	assert.EqualValues(t, 3, body["alerts_active"])
	assert.EqualValues(t, 1, body["alerts_critical"])
	assert.Equal(t, "2025-03-01T12:00:00Z", body["last_poll"])

	daemon, ok := body["daemon"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, daemon["pooled_connections"])
	assert.EqualValues(t, 0, daemon["websocket_clients"])
	assert.NotZero(t, daemon["pid"])
}

func TestGetConfig_Sanitized(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 30, body["polling_interval_seconds"])
	assert.EqualValues(t, 72, body["legacy_threshold_hours"])
	assert.NotContains(t, rec.Body.String(), "key_path")
	assert.NotContains(t, rec.Body.String(), "id_ed25519")
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")

	hosts := body["hosts"].([]interface{})
	require.Len(t, hosts, 2)
	first := hosts[0].(map[string]interface{})
	assert.Equal(t, "gpu-01", first["name"])
	assert.Equal(t, true, first["has_gpu"])
	second := hosts[1].(map[string]interface{})
	assert.Equal(t, []interface{}{}, second["tags"])

	alerts := body["alerts"].(map[string]interface{})
	assert.EqualValues(t, 90, alerts["gpu_temp_critical"])
}

func TestHosts(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/hosts")
	require.Equal(t, http.StatusOK, rec.Code)
	hosts := body["hosts"].([]interface{})
	require.Len(t, hosts, 2)
	assert.Equal(t, "gpu-01", hosts[0].(map[string]interface{})["hostname"])

	rec, body = env.do(t, http.MethodGet, "/api/hosts/cpu-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "offline", body["status"])
	assert.Equal(t, "Can't reach '10.0.0.2'", body["error_message"])

	rec, body = env.do(t, http.MethodGet, "/api/hosts/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Host 'nope' not found", body["error"])
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query  string
		code   int
		total  int
		active int
		legacy int
	}{
		{"", http.StatusOK, 2, 1, 1},
		{"?status=active", http.StatusOK, 1, 1, 0},
		{"?status=legacy", http.StatusOK, 1, 0, 1},
		{"?status=zombie", http.StatusBadRequest, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, "/api/sessions"+tt.query)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				assert.Contains(t, body["error"], "status")
				return
			}
			assert.EqualValues(t, tt.total, body["total"])
			assert.EqualValues(t, tt.active, body["active"])
			assert.EqualValues(t, tt.legacy, body["legacy"])
			assert.Len(t, body["sessions"], tt.total)
		})
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/sessions/gpu-01:train")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "train", body["name"])
	assert.Equal(t, true, body["attached"])

	rec, body = env.do(t, http.MethodGet, "/api/sessions/gpu-01:missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session 'gpu-01:missing' not found", body["error"])
}

func TestGetSession_EscapedSlash(t *testing.T) {
	env := newTestEnv(t)
	hosts := fixtureHosts()
	hosts[0].Sessions = append(hosts[0].Sessions, fleet.Session{
		ID: "gpu-01:a/b", Host: "gpu-01", Name: "a/b", Status: fleet.SessionActive,
	})
	env.collector.set(hosts...)
	env.sched.Refresh(context.Background())

	rec, body := env.do(t, http.MethodGet, "/api/sessions/"+url.PathEscape("gpu-01:a/b"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a/b", body["name"])
}

func TestListAlerts(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := body["alerts"].([]interface{})
	require.Len(t, alerts, 3)
	assert.Equal(t, "critical", alerts[0].(map[string]interface{})["severity"])
	assert.EqualValues(t, 3, body["unacknowledged"])
	assert.EqualValues(t, 1, body["critical"])

	id := alerts[0].(map[string]interface{})["id"].(string)
	rec, _ = env.do(t, http.MethodPost, "/api/alerts/"+id+"/ack")
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = env.do(t, http.MethodGet, "/api/alerts?acknowledged=false")
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 0, body["critical"])

	_, body = env.do(t, http.MethodGet, "/api/alerts?acknowledged=true")
	assert.EqualValues(t, 3, body["total"])

	rec, _ = env.do(t, http.MethodGet, "/api/alerts?acknowledged=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAckAlert(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	env.sched.AddBroadcaster(rec)

	alerts := env.sched.Engine().Alerts(true)
	require.NotEmpty(t, alerts)
	id := alerts[0].ID

	resp, body := env.do(t, http.MethodPost, "/api/alerts/"+id+"/ack")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, id, body["id"])

	a, ok := env.sched.Engine().Alert(id)
	require.True(t, ok)
	assert.True(t, a.Acknowledged)

	records, err := env.store.AlertHistory(context.Background(), "", 10)
	require.NoError(t, err)
	var saved *history.AlertRecord
	for i := range records {
		if records[i].ID == id {
			saved = &records[i]
		}
	}
	require.NotNil(t, saved)
	assert.True(t, saved.Acknowledged)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, fleet.EventAlertAcknowledged, events[0].Event)
	assert.Equal(t, fleet.AckEvent{ID: id}, events[0].Data)

	resp, body = env.do(t, http.MethodPost, "/api/alerts/deadbeef/ack")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Alert 'deadbeef' not found", body["error"])
}

func TestAlertHistory(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/alerts/history?host=gpu-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	_, body = env.do(t, http.MethodGet, "/api/alerts/history?limit=1")
	assert.EqualValues(t, 1, body["total"])

	rec, _ = env.do(t, http.MethodGet, "/api/alerts/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsHistory(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/history/gpu-01?hours=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gpu-01", body["host"])
	samples := body["samples"].([]interface{})
	require.Len(t, samples, 1)
	assert.EqualValues(t, 95, samples[0].(map[string]interface{})["cpu_percent"])

	rec, _ = env.do(t, http.MethodGet, "/api/history/gpu-01?hours=-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/history/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	before := env.collector.callCount()

	hosts := fixtureHosts()
	hosts[1].Status = fleet.HostOnline
	env.collector.set(hosts...)

	rec, body := env.do(t, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["hosts_online"])
	assert.Equal(t, before+1, env.collector.callCount())
}

func TestRefresh_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.srv.limiter = NewRateLimiter(1, 1)
	env.srv.engine = env.srv.routes()

	rec, _ := env.do(t, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded", body["error"])
}

func TestKillSession(t *testing.T) {
	env := newTestEnv(t)
	host := env.dialer.Host("10.0.0.1")
	host.Output("kill-session", "fleetdash-exit:0\n")

	rec, body := env.do(t, http.MethodPost, "/api/sessions/gpu-01:train/kill")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Add ?confirm=true to confirm session termination", body["error"])
	assert.Empty(t, host.Commands())

	before := env.collector.callCount()
	rec, body = env.do(t, http.MethodPost, "/api/sessions/gpu-01:train/kill?confirm=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Session 'train' killed", body["message"])

	cmds := host.Commands()
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "tmux kill-session -t '=train'")
	assert.Equal(t, 1, host.Closed())
	assert.Equal(t, before+1, env.collector.callCount())
}

func TestKillSession_Failures(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		env := newTestEnv(t)
		rec, _ := env.do(t, http.MethodPost, "/api/sessions/gpu-01:ghost/kill?confirm=true")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("tmux refuses", func(t *testing.T) {
		env := newTestEnv(t)
		env.dialer.Host("10.0.0.1").Output("kill-session", "can't find session: =train\nfleetdash-exit:1\n")

		rec, body := env.do(t, http.MethodPost, "/api/sessions/gpu-01:train/kill?confirm=true")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to kill session: can't find session: =train", body["error"])
	})

	t.Run("ssh failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.dialer.Host("10.0.0.1").DialError = errors.New(errors.ErrSSH, "Can't reach '10.0.0.1'", "")

		rec, body := env.do(t, http.MethodPost, "/api/sessions/gpu-01:train/kill?confirm=true")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, body["error"], "SSH error: ")
		assert.True(t, env.log.HasLevel("warn"))
	})
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_ListenError(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()

	env := newTestEnv(t)
	env.srv.cfg.Server.Listen = strings.TrimPrefix(ln.URL, "http://")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := env.srv.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestRun_Shutdown(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.Server.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type recorder struct {
	mu     sync.Mutex
	events []fleet.Event
}

func (r *recorder) Broadcast(ev fleet.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []fleet.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fleet.Event(nil), r.events...)
}
