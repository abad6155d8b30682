package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// Pool keeps one connection per host alive between polling cycles so each
// cycle doesn't pay for a fresh handshake. Connections are keyed by host name.
type Pool struct {
	// ConnectTimeout bounds each dial. A quarter of it, capped at
	// maxAliveTimeout, bounds the keepalive on a pooled connection. Zero
	// leaves both to the caller's ctx.
	ConnectTimeout time.Duration

	mu          sync.Mutex
	dialer      sshutil.Dialer
	connections map[string]*poolEntry
}

const maxAliveTimeout = 2 * time.Second

// poolEntry holds a connection and its metadata.
type poolEntry struct {
	conn     sshutil.Conn
	address  string
	lastUsed time.Time
}

// NewPool creates a pool that dials through dialer.
func NewPool(dialer sshutil.Dialer) *Pool {
	return &Pool{
		dialer:      dialer,
		connections: make(map[string]*poolEntry),
	}
}

// Get returns the pooled connection for name if it still answers a
// keepalive, or dials address. A dead or re-addressed connection is closed
// and replaced. The keepalive and the dial get separate deadlines, so a
// silently dropped connection can't spend the dial's budget.
func (p *Pool) Get(ctx context.Context, name, address string) (sshutil.Conn, error) {
	p.mu.Lock()
	entry, exists := p.connections[name]
	p.mu.Unlock()

	if exists {
		if entry.address == address && p.alive(ctx, entry.conn) {
			p.mu.Lock()
			entry.lastUsed = time.Now()
			p.mu.Unlock()
			return entry.conn, nil
		}
		p.remove(name)
	}

	dialCtx, cancel := p.withTimeout(ctx, p.ConnectTimeout)
	conn, err := p.dialer.Dial(dialCtx, address)
	cancel()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.connections[name] = &poolEntry{
		conn:     conn,
		address:  address,
		lastUsed: time.Now(),
	}
	p.mu.Unlock()

	return conn, nil
}

func (p *Pool) alive(ctx context.Context, conn sshutil.Conn) bool {
	timeout := p.ConnectTimeout / 4
	if timeout > maxAliveTimeout {
		timeout = maxAliveTimeout
	}
	aliveCtx, cancel := p.withTimeout(ctx, timeout)
	defer cancel()
	return conn.Alive(aliveCtx)
}

func (p *Pool) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, entry := range p.connections {
		_ = entry.conn.Close()
		delete(p.connections, name)
	}
}

// CloseOne closes and removes a specific connection from the pool.
func (p *Pool) CloseOne(name string) {
	p.remove(name)
}

// Prune closes connections idle for longer than maxIdle, such as hosts that
// were removed from the config.
func (p *Pool) Prune(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	pruned := 0
	for name, entry := range p.connections {
		if entry.lastUsed.Before(cutoff) {
			_ = entry.conn.Close()
			delete(p.connections, name)
			pruned++
		}
	}
	return pruned
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// remove closes and removes a connection from the pool.
func (p *Pool) remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[name]; ok {
		_ = entry.conn.Close()
		delete(p.connections, name)
	}
}
