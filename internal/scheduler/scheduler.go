// Package scheduler drives the polling cycle: collect every host, evaluate
// alerts, persist history, then push the new snapshot to viewers. Cycles
// never overlap, whether they come from the timer or a manual refresh.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/alert"
	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/history"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

// DefaultCleanupInterval is how often history older than the retention is purged.
const DefaultCleanupInterval = 24 * time.Hour

// Collector produces one snapshot of the fleet. It must not fail; unreachable
// hosts come back OFFLINE.
type Collector interface {
	CollectAll(ctx context.Context, hosts []config.HostConfig) []fleet.Host
}

// Broadcaster receives every event the scheduler emits. Implementations must
// not block: a slow viewer can't be allowed to hold up the next cycle.
type Broadcaster interface {
	Broadcast(ev fleet.Event)
}

// Options configures a Scheduler.
type Options struct {
	Hosts    []config.HostConfig
	Interval time.Duration
	// Retention is how long history is kept. Zero disables cleanup.
	Retention       time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
	Logger          logger.Logger
}

// Scheduler owns the latest snapshot and the alert engine's write path.
type Scheduler struct {
	collector Collector
	engine    *alert.Engine
	store     history.Store

	hostConfigs     []config.HostConfig
	interval        time.Duration
	retention       time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	log             logger.Logger

	// cycleMu serializes cycles. live is only touched while holding it.
	cycleMu     sync.Mutex
	live        map[string]struct{}
	lastCleanup time.Time

	mu       sync.RWMutex
	hosts    []fleet.Host
	lastPoll *time.Time

	bmu          sync.RWMutex
	broadcasters []Broadcaster

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a scheduler. store may be nil when history is not kept.
func New(collector Collector, engine *alert.Engine, store history.Store, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}

	return &Scheduler{
		collector:       collector,
		engine:          engine,
		store:           store,
		hostConfigs:     opts.Hosts,
		interval:        opts.Interval,
		retention:       opts.Retention,
		cleanupInterval: opts.CleanupInterval,
		now:             opts.Now,
		log:             opts.Logger,
		live:            make(map[string]struct{}),
		hosts:           []fleet.Host{},
	}
}

// AddBroadcaster registers b for every subsequent event.
func (s *Scheduler) AddBroadcaster(b Broadcaster) {
	s.bmu.Lock()
	defer s.bmu.Unlock()
	s.broadcasters = append(s.broadcasters, b)
}

// Broadcast sends ev to every registered broadcaster.
func (s *Scheduler) Broadcast(ev fleet.Event) {
	s.bmu.RLock()
	defer s.bmu.RUnlock()
	for _, b := range s.broadcasters {
		b.Broadcast(ev)
	}
}

// Start runs the polling loop in the background until Stop or ctx is done.
// The first cycle starts immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop signals the loop and waits for the in-flight cycle, if any, to finish.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()
	<-done
}

// Run polls until ctx is done: one cycle, then wait Interval, repeat. A cycle
// already underway when ctx is cancelled runs to completion; probes are
// bounded by their own timeouts.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("polling %d hosts every %s", len(s.hostConfigs), s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("polling stopped")
			return
		case <-timer.C:
		}

		s.cycle(context.WithoutCancel(ctx))
		timer.Reset(s.interval)
	}
}

// Refresh runs a cycle now and returns the new snapshot. If a cycle is
// already running it waits for that one to finish first. Cancelling ctx
// doesn't abort the cycle: an abandoned request must not mark hosts offline.
func (s *Scheduler) Refresh(ctx context.Context) []fleet.Host {
	s.cycle(context.WithoutCancel(ctx))
	return s.Hosts()
}

// cycle is one collect, evaluate, persist, broadcast pass. A panic anywhere
// is logged and the loop carries on.
func (s *Scheduler) cycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("polling cycle failed: %v", r)
		}
	}()

	start := time.Now()
	hosts := s.collector.CollectAll(ctx, s.hostConfigs)
	at := s.now()

	alerts := s.engine.Evaluate(hosts)

	s.mu.Lock()
	s.hosts = hosts
	s.lastPoll = &at
	s.mu.Unlock()

	s.persist(ctx, at, hosts, alerts)

	s.Broadcast(fleet.NewEvent(fleet.EventHostsUpdate, fleet.Snapshot{
		Hosts:  fleet.CloneHosts(hosts),
		Alerts: s.engine.Alerts(true),
	}, at))

	s.cleanup(ctx, at)

	s.log.Debug("poll complete in %s: %d hosts, %d sessions, %d alerts",
		time.Since(start).Round(time.Millisecond), len(hosts), countSessions(hosts), len(alerts))
}

// persist records the snapshot and the alert transitions since the last
// cycle: new alerts are saved, vanished ones marked cleared. Store failures
// are logged and never stop the cycle.
func (s *Scheduler) persist(ctx context.Context, at time.Time, hosts []fleet.Host, alerts []fleet.Alert) {
	current := make(map[string]struct{}, len(alerts))
	for _, a := range alerts {
		current[a.ID] = struct{}{}
	}

	if s.store != nil {
		if err := s.store.RecordSnapshot(ctx, at, hosts); err != nil {
			s.log.Error("history: %s", errors.Message(err))
		}
		for _, a := range alerts {
			if _, seen := s.live[a.ID]; seen {
				continue
			}
			if err := s.store.SaveAlert(ctx, a); err != nil {
				s.log.Error("history: %s", errors.Message(err))
			}
		}
		for id := range s.live {
			if _, still := current[id]; still {
				continue
			}
			if err := s.store.ClearAlert(ctx, id, at); err != nil {
				s.log.Error("history: %s", errors.Message(err))
			}
		}
	}

	s.live = current
}

func (s *Scheduler) cleanup(ctx context.Context, at time.Time) {
	if s.store == nil || s.retention <= 0 {
		return
	}
	if !s.lastCleanup.IsZero() && at.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = at

	removed, err := s.store.Cleanup(ctx, at.Add(-s.retention))
	if err != nil {
		s.log.Error("history cleanup: %s", errors.Message(err))
		return
	}
	if removed > 0 {
		s.log.Info("history cleanup removed %d records older than %s", removed, formatDays(s.retention))
	}
}

// Hosts returns a copy of the latest snapshot, in config order.
func (s *Scheduler) Hosts() []fleet.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fleet.CloneHosts(s.hosts)
}

// Host returns a copy of one host from the latest snapshot.
func (s *Scheduler) Host(name string) (fleet.Host, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.hosts {
		if s.hosts[i].Hostname == name {
			return s.hosts[i].Clone(), true
		}
	}
	return fleet.Host{}, false
}

// LastPoll returns when the latest cycle finished collecting.
func (s *Scheduler) LastPoll() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastPoll == nil {
		return time.Time{}, false
	}
	return *s.lastPoll, true
}

// Engine returns the alert engine fed by this scheduler.
func (s *Scheduler) Engine() *alert.Engine {
	return s.engine
}

// Store returns the history store, or nil.
func (s *Scheduler) Store() history.Store {
	return s.store
}

// HostConfigs returns the configured hosts being polled.
func (s *Scheduler) HostConfigs() []config.HostConfig {
	out := make([]config.HostConfig, len(s.hostConfigs))
	copy(out, s.hostConfigs)
	return out
}

// Interval returns the polling interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func countSessions(hosts []fleet.Host) int {
	n := 0
	for i := range hosts {
		n += len(hosts[i].Sessions)
	}
	return n
}

func formatDays(d time.Duration) string {
	days := d.Hours() / 24
	if days == float64(int(days)) {
		return fmt.Sprintf("%d days", int(days))
	}
	return d.String()
}
