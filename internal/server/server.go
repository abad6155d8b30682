// Package server exposes the fleet snapshot over HTTP and pushes updates to
// WebSocket viewers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/scheduler"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

const (
	shutdownTimeout = 5 * time.Second
	limiterIdle     = 10 * time.Minute
)

// Options wires a Server to the rest of the daemon.
type Options struct {
	Config    *config.Config
	Scheduler *scheduler.Scheduler
	// Dialer opens the one-off connection used to kill sessions.
	Dialer  sshutil.Dialer
	Version string
	// PoolSize reports pooled SSH connections for /api/status. Optional.
	PoolSize func() int
	Now      func() time.Time
	Logger   logger.Logger
}

// Server is the HTTP API plus WebSocket hub.
type Server struct {
	cfg     *config.Config
	sched   *scheduler.Scheduler
	dialer  sshutil.Dialer
	version string
	started time.Time
	now     func() time.Time
	log     logger.Logger

	poolSize func() int
	hub      *Hub
	limiter  *RateLimiter
	engine   *gin.Engine
}

// New builds the router and registers the hub as a scheduler broadcaster.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}

	s := &Server{
		cfg:      opts.Config,
		sched:    opts.Scheduler,
		dialer:   opts.Dialer,
		version:  opts.Version,
		started:  opts.Now(),
		now:      opts.Now,
		log:      opts.Logger,
		poolSize: opts.PoolSize,
		limiter:  NewRateLimiter(opts.Config.Server.RefreshRatePerMinute, 2),
	}
	s.hub = NewHub(s.snapshot, opts.Logger)
	s.hub.now = opts.Now
	s.sched.AddBroadcaster(s.hub)
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	// Session IDs may contain an escaped "/".
	engine.UseRawPath = true
	engine.Use(Recovery(s.log), RequestLogger(s.log))

	api := engine.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/config", s.getConfig)

		api.GET("/hosts", s.listHosts)
		api.GET("/hosts/:hostname", s.getHost)

		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/kill", s.limiter.Middleware(), s.killSession)

		api.GET("/alerts", s.listAlerts)
		api.GET("/alerts/history", s.alertHistory)
		api.POST("/alerts/:id/ack", s.ackAlert)

		api.GET("/history/:hostname", s.metricsHistory)
		api.POST("/refresh", s.limiter.Middleware(), s.refresh)
	}
	engine.GET("/ws", s.hub.HandleWebSocket)

	return engine
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on cfg.Server.Listen until ctx is done, then shuts down
// gracefully and disconnects viewers.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	prune := time.NewTicker(limiterIdle)
	defer prune.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Can't listen on "+srv.Addr, "Pick another server.listen address or stop whatever holds the port")
		case <-prune.C:
			s.limiter.Prune(limiterIdle)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.hub.Close()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn("http shutdown: %v", err)
			}
			return nil
		}
	}
}

func (s *Server) snapshot() fleet.Snapshot {
	return fleet.Snapshot{
		Hosts:  s.sched.Hosts(),
		Alerts: s.sched.Engine().Alerts(true),
	}
}
