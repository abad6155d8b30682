package sshutil

import (
	"context"
	"time"
)

// Conn is an open remote session that can run commands.
// The real *Client and the fakes in sshutil/testing both satisfy it.
type Conn interface {
	// Run executes cmd and returns stdout. A non-zero exit status is not
	// an error; see (*Client).Run for the error contract.
	Run(ctx context.Context, cmd string) (string, error)

	// Alive reports whether the underlying transport still answers
	// before ctx is done.
	Alive(ctx context.Context) bool

	// Close closes the connection.
	Close() error
}

// Dialer opens Conns to host addresses.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// ClientDialer dials real SSH connections with fixed Options.
type ClientDialer struct {
	Options Options
}

// NewDialer returns a Dialer for the given options.
func NewDialer(opts Options) *ClientDialer {
	return &ClientDialer{Options: opts}
}

// Dial implements Dialer.
func (d *ClientDialer) Dial(ctx context.Context, address string) (Conn, error) {
	c, err := DialContext(ctx, address, d.Options)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RunOnce dials address, runs a single command and closes the connection.
// The command gets its own timeout once the connection is up.
func RunOnce(ctx context.Context, d Dialer, address, cmd string, timeout time.Duration) (string, error) {
	conn, err := d.Dial(ctx, address)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return conn.Run(ctx, cmd)
}
