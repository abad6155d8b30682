// Package testing provides scriptable fakes for sshutil.Dialer and
// sshutil.Conn so probes and collectors can be tested without SSH.
package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// CommandResponse is a canned result for a command pattern.
type CommandResponse struct {
	Stdout string
	Error  error
	// Delay is waited (or until ctx expires) before responding.
	Delay time.Duration
	// Panic makes Run panic with this value.
	Panic interface{}
}

// FakeHost scripts one address.
type FakeHost struct {
	mu        sync.Mutex
	responses map[string]CommandResponse
	patterns  []string
	commands  []string

	// DialError is returned from Dial when set.
	DialError error
	// DialDelay is waited before Dial succeeds or fails.
	DialDelay time.Duration
	// Hang makes Dial block until ctx is done, then return a TIMEOUT error.
	Hang bool
	// Dead makes Alive report false on conns for this host.
	Dead bool
	// Stale makes Alive block until ctx is done and then report false, like
	// a connection whose peer vanished without a FIN.
	Stale bool

	dials  int
	closed int
}

// NewFakeHost creates a host with no scripted commands. Unknown commands
// return empty output, like a remote command that printed nothing.
func NewFakeHost() *FakeHost {
	return &FakeHost{responses: make(map[string]CommandResponse)}
}

// On sets the response for any command containing pattern. Exact matches
// win; otherwise patterns are tried in the order they were added.
func (h *FakeHost) On(pattern string, resp CommandResponse) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.responses[pattern]; !exists {
		h.patterns = append(h.patterns, pattern)
	}
	h.responses[pattern] = resp
	return h
}

// Output is shorthand for On(pattern, CommandResponse{Stdout: stdout}).
func (h *FakeHost) Output(pattern, stdout string) *FakeHost {
	return h.On(pattern, CommandResponse{Stdout: stdout})
}

// Commands returns every command run against this host, in order.
func (h *FakeHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Dials returns how many successful dials were made.
func (h *FakeHost) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Closed returns how many conns to this host were closed.
func (h *FakeHost) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *FakeHost) lookup(cmd string) CommandResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
	if resp, ok := h.responses[cmd]; ok {
		return resp
	}
	for _, p := range h.patterns {
		if strings.Contains(cmd, p) {
			return h.responses[p]
		}
	}
	return CommandResponse{}
}

// FakeDialer implements sshutil.Dialer over a set of FakeHosts keyed by address.
type FakeDialer struct {
	mu    sync.Mutex
	hosts map[string]*FakeHost
}

// NewFakeDialer creates a dialer with no hosts. Dialing an unknown address
// fails with an SSH error.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{hosts: make(map[string]*FakeHost)}
}

// Host returns the FakeHost for address, creating it if needed.
func (d *FakeDialer) Host(address string) *FakeHost {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[address]
	if !ok {
		h = NewFakeHost()
		d.hosts[address] = h
	}
	return h
}

// Dial implements sshutil.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, address string) (sshutil.Conn, error) {
	d.mu.Lock()
	h, ok := d.hosts[address]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.ErrSSH, fmt.Sprintf("Can't reach '%s'", address), "")
	}

	if h.Hang {
		<-ctx.Done()
		return nil, errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Timed out connecting to '%s'", address), "")
	}
	if h.DialDelay > 0 {
		if err := sleep(ctx, h.DialDelay); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrTimeout,
				fmt.Sprintf("Timed out connecting to '%s'", address), "")
		}
	}
	if h.DialError != nil {
		return nil, h.DialError
	}

	h.mu.Lock()
	h.dials++
	h.mu.Unlock()
	return &FakeConn{host: h}, nil
}

// FakeConn implements sshutil.Conn for one FakeHost.
type FakeConn struct {
	host   *FakeHost
	mu     sync.Mutex
	closed bool
}

// Run implements sshutil.Conn.
func (c *FakeConn) Run(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", errors.New(errors.ErrSSH, "Failed to open SSH session", "")
	}

	resp := c.host.lookup(cmd)
	if resp.Panic != nil {
		panic(resp.Panic)
	}
	if resp.Delay > 0 {
		if err := sleep(ctx, resp.Delay); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrTimeout, "Command timed out: "+cmd, "")
		}
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	return resp.Stdout, nil
}

// Alive implements sshutil.Conn.
func (c *FakeConn) Alive(ctx context.Context) bool {
	c.host.mu.Lock()
	stale := c.host.Stale
	c.host.mu.Unlock()
	if stale {
		<-ctx.Done()
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.host.Dead
}

// Close implements sshutil.Conn.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.host.mu.Lock()
		c.host.closed++
		c.host.mu.Unlock()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
