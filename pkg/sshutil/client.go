package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Known-hosts policies.
const (
	PolicyAccept = "accept"
	PolicyStrict = "strict"
)

// Options are the credentials and budgets shared by every host in the fleet.
type Options struct {
	User    string
	KeyPath string
	// Timeout bounds TCP connect plus the SSH handshake.
	Timeout time.Duration
	// KnownHostsPolicy is "accept" (trust any host key) or "strict"
	// (verify against KnownHostsFile, default ~/.ssh/known_hosts).
	KnownHostsPolicy string
	KnownHostsFile   string
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)
}

// Dial connects using a background context. See DialContext.
func Dial(host string, opts Options) (*Client, error) {
	return DialContext(context.Background(), host, opts)
}

// DialContext establishes an SSH connection to host, which can be:
//   - An SSH config alias (e.g., "gpu-01")
//   - A hostname or IP (e.g., "10.0.0.11")
//   - A user@hostname (overrides Options.User)
//   - A hostname:port (e.g., "10.0.0.11:2222")
//
// HostName, Port and IdentityFile are resolved from ~/.ssh/config when present.
// Failures are *errors.Error with code TIMEOUT when the budget or ctx ran
// out, and SSH for everything else (refused, auth, host key).
func DialContext(ctx context.Context, host string, opts Options) (*Client, error) {
	settings := resolveSSHSettings(host, opts.User)

	config, err := buildSSHConfig(settings, opts)
	if err != nil {
		var fdErr *errors.Error
		if stderrors.As(err, &fdErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't set up SSH for '%s'", host),
			"Check ssh.key_path points at a readable private key")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	address := settings.address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classifyDialError(err, host, address)
	}

	// The handshake has no context support; bound it with a deadline and
	// close the socket if ctx is cancelled first.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	stopped := stop()
	if err != nil {
		conn.Close()

		if isTimeout(err) || !stopped || ctx.Err() != nil {
			return nil, errors.WrapWithCode(err, errors.ErrTimeout,
				fmt.Sprintf("SSH handshake with '%s' timed out", host),
				"The host accepted the connection but never finished the handshake")
		}

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrSSH, hostKeyErr.Error(), hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", host),
			suggestionForHandshakeError(err, settings.encryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Alive sends a keepalive global request and waits for the reply or ctx.
// Any reply, even a rejection, means the transport is still up.
func (c *Client) Alive(ctx context.Context) bool {
	if c.Client == nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

func classifyDialError(err error, host, address string) error {
	if isTimeout(err) {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Timed out connecting to '%s' at %s", host, address),
			"Host might be offline or blocked by a firewall.")
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		fmt.Sprintf("Can't reach '%s' at %s", host, address),
		suggestionForDialError(err))
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	hostname      string
	port          string
	user          string
	identityFile  string
	encryptedKeys []string // Keys that exist but are encrypted
}

// address returns the host:port string for dialing.
func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSSHSettings parses the host string and resolves settings from ~/.ssh/config.
// Precedence for the user: explicit user@host, then defaultUser, then the
// ssh config User, then $USER.
func resolveSSHSettings(host, defaultUser string) *sshSettings {
	settings := &sshSettings{
		port: "22",
		user: defaultUser,
	}

	explicitUser := false
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		settings.user = host[:atIdx]
		host = host[atIdx+1:]
		explicitUser = true
	}

	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		potentialPort := host[colonIdx+1:]
		isPort := potentialPort != ""
		for _, c := range potentialPort {
			if c < '0' || c > '9' {
				isPort = false
				break
			}
		}
		if isPort {
			settings.port = potentialPort
			host = host[:colonIdx]
		}
	}

	settings.hostname = host

	if cfg := loadSSHConfig(filepath.Join(homeDir(), ".ssh", "config")); cfg != nil {
		if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
			settings.hostname = hostname
		}
		if port, _ := cfg.Get(host, "Port"); port != "" && settings.port == "22" {
			settings.port = port
		}
		if user, _ := cfg.Get(host, "User"); user != "" && !explicitUser && settings.user == "" {
			settings.user = user
		}
		if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
			settings.identityFile = expandPath(identity)
		}
	}

	if settings.user == "" {
		settings.user = currentUser()
	}
	return settings
}

// loadSSHConfig decodes the user's ssh config, or returns nil when it is
// missing or unparseable.
func loadSSHConfig(path string) *ssh_config.Config {
	content, _, err := preprocessSSHConfig(path)
	if err != nil {
		return nil
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	return cfg
}

// buildSSHConfig creates an SSH client config with authentication methods.
// It also populates settings.encryptedKeys with any keys that exist but are encrypted.
func buildSSHConfig(settings *sshSettings, opts Options) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod
	tried := make(map[string]bool)

	tryKeyFile := func(keyPath string) {
		if keyPath == "" || tried[keyPath] {
			return
		}
		tried[keyPath] = true
		keyAuth, err := keyFileAuth(keyPath)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return
		}
		authMethods = append(authMethods, keyAuth)
	}

	// The configured daemon key comes first; it is what the fleet is provisioned with.
	tryKeyFile(expandPath(opts.KeyPath))
	tryKeyFile(settings.identityFile)

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Set ssh.key_path to the fleet's private key, or load a key into ssh-agent"

		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
			suggestion = "The daemon can't prompt for passphrases. Use an unencrypted key or load it into ssh-agent:\n" +
				"  ssh-add " + strings.Join(settings.encryptedKeys, " ")
		}

		return nil, errors.New(errors.ErrSSH, msg, suggestion)
	}

	var hostKeyCallback ssh.HostKeyCallback
	switch opts.KnownHostsPolicy {
	case PolicyStrict:
		path := opts.KnownHostsFile
		if path == "" {
			path = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		var err error
		hostKeyCallback, err = createHostKeyCallback(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	default:
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // known_hosts_policy: accept
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is sshd running on that box?"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check the address and the daemon's network."
	}
	if strings.Contains(errStr, "no such host") {
		return "The address doesn't resolve. Check the host's address in the config."
	}
	return "Make sure the host is reachable from the daemon"
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		if len(encryptedKeys) > 0 {
			return "Your key(s) are encrypted and the daemon can't prompt. Load them into ssh-agent: ssh-add " +
				strings.Join(encryptedKeys, " ")
		}
		return "Auth failed. Check ssh.user and that the public key is in the host's authorized_keys"
	}
	if strings.Contains(errStr, "host key") || strings.Contains(errStr, "knownhosts") {
		return "Host key issue. Add the host with ssh-keyscan, or set ssh.known_hosts_policy: accept"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the host was reinstalled, remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

// preprocessSSHConfig reads the SSH config and returns content up to the
// first Match directive, which ssh_config can't parse. Also returns the
// 1-indexed line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better
// errors. Unknown hosts are rejected; the daemon never writes known_hosts.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
