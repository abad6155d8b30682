package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Run executes cmd on the remote host and returns its stdout.
//
// A non-zero remote exit status is not an error: the caller gets whatever
// stdout was produced (often empty). Errors are reserved for the transport:
// TIMEOUT when ctx expires before the command finishes (the session is torn
// down), SSH when no session could be opened, EXEC when the session broke
// mid-command.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to open SSH session",
			"Connection may have been closed. It will be re-dialed next cycle.")
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Run; the goroutine drains into done.
		session.Close()
		return "", errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Command timed out: %s", truncate(cmd, 60)),
			"")
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		if stderrors.As(err, &exitErr) || stderrors.As(err, &missing) {
			return stdout.String(), nil
		}
		return "", errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Failed to execute command: %s", truncate(cmd, 60)),
			"")
	}

	return stdout.String(), nil
}

// ShellQuote wraps s in single quotes for safe use as one POSIX shell word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
