package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// Options configures a Collector.
type Options struct {
	// ConnectTimeout bounds the dial per host. Pooled liveness checks get a
	// fraction of it.
	ConnectTimeout time.Duration
	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration
	// LegacyThreshold is passed through to session status derivation.
	LegacyThreshold time.Duration
	// KeepConnections reuses connections across cycles. One-shot callers
	// leave it off so nothing outlives CollectAll.
	KeepConnections bool
	// MaxIdle closes pooled connections unused for this long after each
	// CollectAll, so hosts dropped from the config don't hold sockets.
	// Zero keeps them until Close.
	MaxIdle time.Duration
	Now     func() time.Time
	Logger  logger.Logger
}

// Collector probes every configured host in parallel and assembles the
// fleet snapshot for one polling cycle.
type Collector struct {
	pool  *Pool
	probe *Probe
	opts  Options
	log   logger.Logger
}

// NewCollector creates a collector that reaches hosts through dialer.
func NewCollector(dialer sshutil.Dialer, opts Options) *Collector {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}

	pool := NewPool(dialer)
	pool.ConnectTimeout = opts.ConnectTimeout

	return &Collector{
		pool: pool,
		probe: &Probe{
			CommandTimeout:  opts.CommandTimeout,
			LegacyThreshold: opts.LegacyThreshold,
			Now:             opts.Now,
			Log:             log,
		},
		opts: opts,
		log:  log,
	}
}

// CollectAll probes hosts concurrently and returns exactly one Host per
// input, in input order. It never fails: a host that can't be reached is
// OFFLINE and a host whose probe blew up is DEGRADED, each with the reason
// in ErrorMessage. Wall-clock cost is bounded by the slowest host.
func (c *Collector) CollectAll(ctx context.Context, hosts []config.HostConfig) []fleet.Host {
	results := make([]fleet.Host, len(hosts))

	var wg sync.WaitGroup
	for i, hc := range hosts {
		wg.Add(1)
		go func(i int, hc config.HostConfig) {
			defer wg.Done()
			results[i] = c.CollectOne(ctx, hc)
		}(i, hc)
	}
	wg.Wait()

	if c.opts.KeepConnections && c.opts.MaxIdle > 0 {
		if n := c.pool.Prune(c.opts.MaxIdle); n > 0 {
			c.log.Debug("closed %d idle connections", n)
		}
	}
	return results
}

// CollectOne probes a single host. See CollectAll for the status contract.
func (c *Collector) CollectOne(ctx context.Context, hc config.HostConfig) (host fleet.Host) {
	host = newHost(hc)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("%s: unexpected error during probe: %v", hc.Name, r)
			c.pool.CloseOne(hc.Name)
			host.Status = fleet.HostDegraded
			host.ErrorMessage = fmt.Sprintf("unexpected error: %v", r)
		}
	}()

	conn, err := c.pool.Get(ctx, hc.Name, hc.Address)
	if err != nil {
		host.ErrorMessage = errors.Message(err)
		if errors.IsConnectFailure(err) {
			c.log.Warn("%s: offline: %s", hc.Name, host.ErrorMessage)
			host.Status = fleet.HostOffline
		} else {
			c.log.Error("%s: unexpected error connecting: %s", hc.Name, host.ErrorMessage)
			host.Status = fleet.HostDegraded
		}
		return host
	}
	if !c.opts.KeepConnections {
		defer c.pool.CloseOne(hc.Name)
	}

	// Connected is online; nothing the probe finds can lower that.
	host.Status = fleet.HostOnline
	seen := c.opts.Now()
	host.LastSeen = &seen

	c.probe.Run(ctx, conn, &host, hc.HasGPU)
	return host
}

// Close releases pooled connections.
func (c *Collector) Close() {
	c.pool.Close()
}

// PoolSize returns the number of live pooled connections.
func (c *Collector) PoolSize() int {
	return c.pool.Size()
}

func newHost(hc config.HostConfig) fleet.Host {
	tags := hc.Tags
	if tags == nil {
		tags = []string{}
	}
	return fleet.Host{
		Hostname: hc.Name,
		Address:  hc.Address,
		HasGPU:   hc.HasGPU,
		Tags:     tags,
		Sessions: []fleet.Session{},
		GPUs:     []fleet.GPU{},
	}
}
