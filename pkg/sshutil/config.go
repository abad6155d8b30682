package sshutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SSHHostEntry is a concrete Host alias from an ssh config file.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string
	Port         string
	IdentityFile string
}

// Address returns the dialable address for the entry: HostName (or the
// alias) with a non-default port appended.
func (h SSHHostEntry) Address() string {
	host := h.Hostname
	if host == "" {
		host = h.Alias
	}
	if h.Port != "" && h.Port != "22" {
		return host + ":" + h.Port
	}
	return host
}

// ParseSSHConfig parses ~/.ssh/config and returns all concrete host entries.
func ParseSSHConfig() ([]SSHHostEntry, error) {
	return ParseSSHConfigFile(filepath.Join(homeDir(), ".ssh", "config"))
}

// ParseSSHConfigFile parses the specified ssh config file. Wildcard patterns
// are skipped and entries are sorted by alias. A missing file yields no
// entries and no error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cfg := loadSSHConfig(configPath)
	if cfg == nil {
		return nil, nil
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, "*?!") || seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{Alias: alias}
			entry.Hostname, _ = cfg.Get(alias, "HostName")
			entry.User, _ = cfg.Get(alias, "User")
			entry.Port, _ = cfg.Get(alias, "Port")
			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = expandPath(identity)
			}
			hosts = append(hosts, entry)
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})
	return hosts, nil
}

// LookupHost returns the entry for alias from ~/.ssh/config.
func LookupHost(alias string) (SSHHostEntry, bool) {
	hosts, err := ParseSSHConfig()
	if err != nil {
		return SSHHostEntry{}, false
	}
	for _, h := range hosts {
		if h.Alias == alias {
			return h, true
		}
	}
	return SSHHostEntry{}, false
}
