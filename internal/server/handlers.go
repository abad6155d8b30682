package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/history"
	"github.com/rileyhilliard/fleetdash/internal/monitor"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status         string      `json:"status"`
	Version        string      `json:"version"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	HostsOnline    int         `json:"hosts_online"`
	HostsTotal     int         `json:"hosts_total"`
	SessionsTotal  int         `json:"sessions_total"`
	AlertsActive   int         `json:"alerts_active"`
	AlertsCritical int         `json:"alerts_critical"`
	LastPoll       *time.Time  `json:"last_poll"`
	Daemon         DaemonStats `json:"daemon"`
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	hosts := s.sched.Hosts()
	engine := s.sched.Engine()

	resp := StatusResponse{
		Status:         "running",
		Version:        s.version,
		UptimeSeconds:  int64(s.now().Sub(s.started).Seconds()),
		HostsTotal:     len(hosts),
		AlertsActive:   engine.UnacknowledgedCount(),
		AlertsCritical: engine.CriticalCount(),
		Daemon:         collectDaemonStats(c.Request.Context()),
	}
	for i := range hosts {
		if hosts[i].Online() {
			resp.HostsOnline++
		}
		resp.SessionsTotal += len(hosts[i].Sessions)
	}
	if last, ok := s.sched.LastPoll(); ok {
		resp.LastPoll = &last
	}
	resp.Daemon.WSClients = s.hub.ClientCount()
	if s.poolSize != nil {
		resp.Daemon.PooledConns = s.poolSize()
	}

	c.JSON(http.StatusOK, resp)
}

// GET /api/config
//
// Everything an operator tunes, minus credentials: no key path, no DSN, no
// Redis password, no host addresses.
func (s *Server) getConfig(c *gin.Context) {
	type hostView struct {
		Name   string   `json:"name"`
		HasGPU bool     `json:"has_gpu"`
		Tags   []string `json:"tags"`
	}
	hosts := make([]hostView, 0, len(s.cfg.Hosts))
	for _, h := range s.cfg.Hosts {
		tags := h.Tags
		if tags == nil {
			tags = []string{}
		}
		hosts = append(hosts, hostView{Name: h.Name, HasGPU: h.HasGPU, Tags: tags})
	}

	c.JSON(http.StatusOK, gin.H{
		"polling_interval_seconds": s.cfg.PollingIntervalSeconds,
		"legacy_threshold_hours":   s.cfg.LegacyThresholdHours,
		"alerts":                   s.cfg.Alerts,
		"ssh": gin.H{
			"user":               s.cfg.SSH.User,
			"timeout":            s.cfg.SSH.Timeout,
			"command_timeout":    s.cfg.SSH.CommandTimeout,
			"known_hosts_policy": s.cfg.SSH.KnownHostsPolicy,
		},
		"history": gin.H{
			"driver":         s.cfg.History.Driver,
			"retention_days": s.cfg.History.RetentionDays,
		},
		"hosts": hosts,
	})
}

// GET /api/hosts
func (s *Server) listHosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hosts":     s.sched.Hosts(),
		"timestamp": s.now(),
	})
}

// GET /api/hosts/:hostname
func (s *Server) getHost(c *gin.Context) {
	name := c.Param("hostname")
	host, ok := s.sched.Host(name)
	if !ok {
		notFound(c, "Host", name)
		return
	}
	c.JSON(http.StatusOK, host)
}

// GET /api/sessions?status=active|legacy
func (s *Server) listSessions(c *gin.Context) {
	status := fleet.SessionStatus(c.Query("status"))
	switch status {
	case "", fleet.SessionActive, fleet.SessionLegacy:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 'active' or 'legacy'"})
		return
	}

	sessions := make([]fleet.Session, 0)
	active, legacy := 0, 0
	for _, h := range s.sched.Hosts() {
		for _, sess := range h.Sessions {
			if status != "" && sess.Status != status {
				continue
			}
			sessions = append(sessions, sess)
			if sess.Status == fleet.SessionLegacy {
				legacy++
			} else {
				active++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":  sessions,
		"total":     len(sessions),
		"active":    active,
		"legacy":    legacy,
		"timestamp": s.now(),
	})
}

// GET /api/sessions/:id
func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	_, sess, ok := s.findSession(id)
	if !ok {
		notFound(c, "Session", id)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// POST /api/sessions/:id/kill?confirm=true
func (s *Server) killSession(c *gin.Context) {
	if confirm, _ := strconv.ParseBool(c.Query("confirm")); !confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Add ?confirm=true to confirm session termination"})
		return
	}

	id := c.Param("id")
	host, sess, ok := s.findSession(id)
	if !ok {
		notFound(c, "Session", id)
		return
	}

	budget := s.cfg.SSH.ConnectTimeout() + s.cfg.SSH.RunTimeout()
	ctx, cancel := context.WithTimeout(c.Request.Context(), budget)
	defer cancel()

	out, err := sshutil.RunOnce(ctx, s.dialer, host.Address, monitor.KillSessionCommand(sess.Name), s.cfg.SSH.RunTimeout())
	if err != nil {
		s.log.Warn("kill %s: %s", id, errors.Message(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "SSH error: " + errors.Message(err)})
		return
	}
	if killed, msg := monitor.ParseKillResult(out); !killed {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to kill session: " + msg})
		return
	}

	s.log.Info("killed session %s", id)
	s.sched.Refresh(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
		"message": fmt.Sprintf("Session '%s' killed", sess.Name),
	})
}

// GET /api/alerts?acknowledged=true|false
//
// Without the parameter, or with true, acknowledged alerts are included;
// false returns only unacknowledged ones.
func (s *Server) listAlerts(c *gin.Context) {
	include := true
	if v := c.Query("acknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "acknowledged must be true or false"})
			return
		}
		include = b
	}

	engine := s.sched.Engine()
	alerts := engine.Alerts(include)
	c.JSON(http.StatusOK, gin.H{
		"alerts":         alerts,
		"total":          len(alerts),
		"unacknowledged": engine.UnacknowledgedCount(),
		"critical":       engine.CriticalCount(),
		"timestamp":      s.now(),
	})
}

// POST /api/alerts/:id/ack
func (s *Server) ackAlert(c *gin.Context) {
	id := c.Param("id")
	engine := s.sched.Engine()
	if !engine.Acknowledge(id) {
		notFound(c, "Alert", id)
		return
	}

	if store := s.sched.Store(); store != nil {
		if a, ok := engine.Alert(id); ok {
			if err := store.SaveAlert(c.Request.Context(), a); err != nil {
				s.log.Error("history: %s", errors.Message(err))
			}
		}
	}

	s.sched.Broadcast(fleet.NewEvent(fleet.EventAlertAcknowledged, fleet.AckEvent{ID: id}, s.now()))
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// GET /api/alerts/history?host=&limit=100
func (s *Server) alertHistory(c *gin.Context) {
	limit := history.DefaultAlertLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records := make([]history.AlertRecord, 0)
	if store := s.sched.Store(); store != nil {
		var err error
		records, err = store.AlertHistory(c.Request.Context(), c.Query("host"), limit)
		if err != nil {
			s.storeFailed(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": records, "total": len(records)})
}

// GET /api/history/:hostname?hours=24
func (s *Server) metricsHistory(c *gin.Context) {
	name := c.Param("hostname")
	if !s.configured(name) {
		notFound(c, "Host", name)
		return
	}

	hours := 24.0
	if v := c.Query("hours"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive number"})
			return
		}
		hours = h
	}

	samples := make([]history.MetricSample, 0)
	if store := s.sched.Store(); store != nil {
		since := s.now().Add(-time.Duration(hours * float64(time.Hour)))
		var err error
		samples, err = store.MetricsHistory(c.Request.Context(), name, since)
		if err != nil {
			s.storeFailed(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"host": name, "hours": hours, "samples": samples})
}

// POST /api/refresh
func (s *Server) refresh(c *gin.Context) {
	hosts := s.sched.Refresh(c.Request.Context())
	online := 0
	for i := range hosts {
		if hosts[i].Online() {
			online++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"hosts_total":  len(hosts),
		"hosts_online": online,
		"timestamp":    s.now(),
	})
}

func (s *Server) findSession(id string) (fleet.Host, fleet.Session, bool) {
	for _, h := range s.sched.Hosts() {
		for _, sess := range h.Sessions {
			if sess.ID == id {
				return h, sess, true
			}
		}
	}
	return fleet.Host{}, fleet.Session{}, false
}

func (s *Server) configured(name string) bool {
	for _, h := range s.cfg.Hosts {
		if h.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) storeFailed(c *gin.Context, err error) {
	s.log.Error("history: %s", errors.Message(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": errors.Message(err)})
}

func notFound(c *gin.Context, kind, id string) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s '%s' not found", kind, id)})
}
