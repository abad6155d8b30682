package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"gopkg.in/yaml.v3"
)

// keyComments are written above top-level keys by WriteExample.
var keyComments = map[string]string{
	"polling_interval_seconds": "Seconds between polling cycles",
	"legacy_threshold_hours":   "Detached sessions idle longer than this are legacy; twice this is ancient",
	"ssh":                      "Credentials used for every host. known_hosts_policy: accept | strict",
	"alerts":                   "Thresholds. session_* values are reserved and not evaluated yet",
	"hosts":                    "Monitored machines, probed in parallel every cycle",
	"history":                  "driver: memory | sqlite | mysql",
	"redis":                    "Mirror every pushed event to a Redis channel",
}

// ExampleConfig returns the defaults plus two sample hosts.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Hosts = []HostConfig{
		{Name: "gpu-01", Address: "10.0.0.11", HasGPU: true, Tags: []string{"training"}},
		{Name: "cpu-01", Address: "cpu-01.internal", Tags: []string{"batch"}},
	}
	return cfg
}

// WriteExample writes an annotated example config to path. It refuses to
// overwrite an existing file unless force is set.
func WriteExample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.New(errors.ErrConfig,
				"Config file already exists: "+path,
				"Use --force to overwrite it")
		}
	}

	var node yaml.Node
	if err := node.Encode(ExampleConfig()); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode example config", "")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if c, ok := keyComments[node.Content[i].Value]; ok {
			node.Content[i].HeadComment = c
		}
	}

	data, err := yaml.Marshal(&node)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode example config", "")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot create config directory "+dir, "Check directory permissions")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot write config file "+path, "Check file permissions")
	}
	return nil
}

// AddHost appends a host entry to the config file at path, preserving the
// existing YAML layout and comments. Adding a name that already exists fails.
func AddHost(path string, host HostConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid YAML document structure")
	}

	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping at document root")
	}

	hostsNode := findMapValue(docNode, "hosts")
	switch {
	case hostsNode == nil:
		hostsNode = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		docNode.Content = append(docNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "hosts"}, hostsNode)
	case hostsNode.Kind == yaml.ScalarNode && hostsNode.Tag == "!!null":
		hostsNode.Kind = yaml.SequenceNode
		hostsNode.Tag = "!!seq"
		hostsNode.Value = ""
	}
	// hosts: [] would otherwise keep flow style
	hostsNode.Style = 0
	if hostsNode.Kind != yaml.SequenceNode {
		return fmt.Errorf("'hosts' must be a list")
	}

	for _, item := range hostsNode.Content {
		if n := findMapValue(item, "name"); n != nil && n.Value == host.Name {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' is already configured", host.Name),
				"Pick a different name or edit the existing entry")
		}
	}

	var entry yaml.Node
	if err := entry.Encode(host); err != nil {
		return fmt.Errorf("failed to encode host: %w", err)
	}
	hostsNode.Content = append(hostsNode.Content, &entry)

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// findMapValue returns the value node for key in a mapping node.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
