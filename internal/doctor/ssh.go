package doctor

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rileyhilliard/fleetdash/internal/config"
)

// SSHKeyCheck verifies the configured private key is usable by a daemon
// that can't prompt for a passphrase.
type SSHKeyCheck struct {
	KeyPath string
}

func (c *SSHKeyCheck) Name() string     { return "ssh_key" }
func (c *SSHKeyCheck) Category() string { return CategorySSH }

func (c *SSHKeyCheck) Run(_ context.Context) CheckResult {
	path := config.ExpandTilde(c.KeyPath)
	if path == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No ssh.key_path configured",
			Suggestion: "Hosts will only be reachable through ssh-agent or ~/.ssh/config identities",
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "SSH key not found: " + path,
			Suggestion: "Generate one with: ssh-keygen -t ed25519 -f " + path + " -N ''",
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "Cannot read SSH key: " + path,
			Suggestion: "Check file permissions",
		}
	}

	if _, err := ssh.ParseRawPrivateKey(data); err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) {
			return CheckResult{
				Name:       c.Name(),
				Status:     StatusWarn,
				Message:    "SSH key is passphrase protected: " + path,
				Suggestion: "Load it into ssh-agent (ssh-add " + path + ") or use an unencrypted key",
			}
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("SSH key is not a private key: %s (%v)", path, err),
			Suggestion: "Point ssh.key_path at the private half of the key pair",
		}
	}

	if info.Mode().Perm()&0o077 != 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("SSH key is readable by others (%04o): %s", info.Mode().Perm(), path),
			Suggestion: "Fix: chmod 600 " + path,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "SSH key: " + path,
	}
}

// SSHAgentCheck reports whether ssh-agent is reachable and holds keys.
// The agent is optional, so problems are warnings.
type SSHAgentCheck struct{}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return CategorySSH }

func (c *SSHAgentCheck) Run(_ context.Context) CheckResult {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "SSH agent not running (key file only)",
		}
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "SSH agent socket not accessible",
			Suggestion: "Unset SSH_AUTH_SOCK or restart the agent: eval $(ssh-agent)",
		}
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Cannot query SSH agent",
			Suggestion: "Check the agent: ssh-add -l",
		}
	}
	if len(keys) == 0 {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "SSH agent running with no keys loaded",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("SSH agent running (%d key%s)", len(keys), pluralize(len(keys))),
	}
}

// KnownHostsCheck verifies known_hosts is loadable under the strict policy.
type KnownHostsCheck struct {
	Policy string
	// Path defaults to ~/.ssh/known_hosts.
	Path string
}

func (c *KnownHostsCheck) Name() string     { return "known_hosts" }
func (c *KnownHostsCheck) Category() string { return CategorySSH }

func (c *KnownHostsCheck) Run(_ context.Context) CheckResult {
	if c.Policy != config.KnownHostsStrict {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Host keys accepted without verification (known_hosts_policy: accept)",
		}
	}

	path := c.Path
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := knownhosts.New(path); err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cannot load %s: %v", path, err),
			Suggestion: "Add each host's key first, e.g. ssh-keyscan HOST >> " + path,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Host keys verified against " + path,
	}
}

// NewSSHChecks creates the local SSH checks for cfg.
func NewSSHChecks(cfg config.SSHConfig) []Check {
	return []Check{
		&SSHKeyCheck{KeyPath: cfg.KeyPath},
		&SSHAgentCheck{},
		&KnownHostsCheck{Policy: cfg.KnownHostsPolicy},
	}
}
