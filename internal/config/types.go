package config

import "time"

// KnownHostsPolicy values for ssh.known_hosts_policy.
const (
	KnownHostsAccept = "accept"
	KnownHostsStrict = "strict"
)

// History driver values.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the daemon configuration, loaded once at startup.
type Config struct {
	PollingIntervalSeconds int           `mapstructure:"polling_interval_seconds" yaml:"polling_interval_seconds" validate:"gte=1"`
	LegacyThresholdHours   float64       `mapstructure:"legacy_threshold_hours" yaml:"legacy_threshold_hours" validate:"gt=0"`
	SSH                    SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	Alerts                 AlertConfig   `mapstructure:"alerts" yaml:"alerts"`
	Hosts                  []HostConfig  `mapstructure:"hosts" yaml:"hosts" validate:"dive"`
	Server                 ServerConfig  `mapstructure:"server" yaml:"server"`
	History                HistoryConfig `mapstructure:"history" yaml:"history"`
	Redis                  RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Log                    LogConfig     `mapstructure:"log" yaml:"log"`
}

// HostConfig is one monitored machine. Immutable for the process lifetime.
type HostConfig struct {
	Name    string   `mapstructure:"name" yaml:"name" json:"name" validate:"required"`
	Address string   `mapstructure:"address" yaml:"address" json:"address" validate:"required"`
	HasGPU  bool     `mapstructure:"has_gpu" yaml:"has_gpu" json:"has_gpu"`
	Tags    []string `mapstructure:"tags" yaml:"tags,omitempty" json:"tags"`
}

// SSHConfig holds credentials and budgets shared by every host.
type SSHConfig struct {
	User             string `mapstructure:"user" yaml:"user" json:"user" validate:"required"`
	KeyPath          string `mapstructure:"key_path" yaml:"key_path" json:"-"`
	Timeout          int    `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"gte=1"`
	CommandTimeout   int    `mapstructure:"command_timeout" yaml:"command_timeout" json:"command_timeout" validate:"gte=1"`
	KnownHostsPolicy string `mapstructure:"known_hosts_policy" yaml:"known_hosts_policy" json:"known_hosts_policy" validate:"oneof=accept strict"`
}

// ConnectTimeout returns the connect budget as a duration.
func (s SSHConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// RunTimeout returns the per-command budget as a duration.
func (s SSHConfig) RunTimeout() time.Duration {
	return time.Duration(s.CommandTimeout) * time.Second
}

// AlertConfig holds per-metric thresholds. The session thresholds are carried
// for config compatibility; the engine does not evaluate them.
type AlertConfig struct {
	Enabled                bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	SessionCPUWarning      float64 `mapstructure:"session_cpu_warning" yaml:"session_cpu_warning" json:"session_cpu_warning" validate:"gte=0,lte=100"`
	SessionMemoryMBWarning int64   `mapstructure:"session_memory_mb_warning" yaml:"session_memory_mb_warning" json:"session_memory_mb_warning" validate:"gte=0"`
	HostCPUWarning         float64 `mapstructure:"host_cpu_warning" yaml:"host_cpu_warning" json:"host_cpu_warning" validate:"gte=0,lte=100"`
	HostMemoryWarning      float64 `mapstructure:"host_memory_warning" yaml:"host_memory_warning" json:"host_memory_warning" validate:"gte=0,lte=100"`
	GPUTempWarning         int     `mapstructure:"gpu_temp_warning" yaml:"gpu_temp_warning" json:"gpu_temp_warning" validate:"gte=0"`
	GPUTempCritical        int     `mapstructure:"gpu_temp_critical" yaml:"gpu_temp_critical" json:"gpu_temp_critical" validate:"gte=0"`
	GPUMemoryWarning       float64 `mapstructure:"gpu_memory_warning" yaml:"gpu_memory_warning" json:"gpu_memory_warning" validate:"gte=0,lte=100"`
	GPUUtilInfo            float64 `mapstructure:"gpu_util_info" yaml:"gpu_util_info" json:"gpu_util_info" validate:"gte=0,lte=100"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Listen               string `mapstructure:"listen" yaml:"listen" validate:"required"`
	RefreshRatePerMinute int    `mapstructure:"refresh_rate_per_minute" yaml:"refresh_rate_per_minute" validate:"gte=0"`
}

// HistoryConfig selects the history backend.
type HistoryConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite mysql"`
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=1"`
	MemorySamples int    `mapstructure:"memory_samples" yaml:"memory_samples" validate:"gte=1"`
}

// Retention returns the retention window as a duration.
func (h HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// RedisConfig configures the optional event mirror.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel" validate:"required_if=Enabled true"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// PollingInterval returns the polling interval as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// LegacyThreshold returns the legacy-session threshold as a duration.
func (c *Config) LegacyThreshold() time.Duration {
	return time.Duration(c.LegacyThresholdHours * float64(time.Hour))
}

// HostNames returns the configured host names in order.
func (c *Config) HostNames() []string {
	names := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		names[i] = h.Name
	}
	return names
}

// FilterHosts returns the subset of hosts whose names appear in names,
// preserving config order. An empty names list returns all hosts.
func (c *Config) FilterHosts(names []string) []HostConfig {
	if len(names) == 0 {
		return c.Hosts
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []HostConfig
	for _, h := range c.Hosts {
		if want[h.Name] {
			out = append(out, h)
		}
	}
	return out
}

// DefaultConfig returns a Config with all defaults and no hosts.
func DefaultConfig() *Config {
	return &Config{
		PollingIntervalSeconds: 30,
		LegacyThresholdHours:   72,
		SSH: SSHConfig{
			User:             "tmux-dash",
			KeyPath:          "~/.ssh/id_ed25519",
			Timeout:          10,
			CommandTimeout:   10,
			KnownHostsPolicy: KnownHostsAccept,
		},
		Alerts: AlertConfig{
			Enabled:                true,
			SessionCPUWarning:      80,
			SessionMemoryMBWarning: 2048,
			HostCPUWarning:         90,
			HostMemoryWarning:      90,
			GPUTempWarning:         80,
			GPUTempCritical:        90,
			GPUMemoryWarning:       90,
			GPUUtilInfo:            95,
		},
		Hosts: []HostConfig{},
		Server: ServerConfig{
			Listen:               ":8080",
			RefreshRatePerMinute: 6,
		},
		History: HistoryConfig{
			Driver:        DriverMemory,
			RetentionDays: 7,
			MemorySamples: 2880,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "fleetdash:events",
		},
		Log: LogConfig{Level: "info"},
	}
}
