package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the config file looked up in the working directory.
	ConfigFileName = "fleetdash.yaml"
	// GlobalConfigDir is the per-user config directory under $HOME.
	GlobalConfigDir = ".config/fleetdash"
	// GlobalConfigFile is the config file name inside the global directories.
	GlobalConfigFile = "config.yaml"
	// SystemConfigDir is the system-wide config directory.
	SystemConfigDir = "/etc/fleetdash"
	// EnvPrefix prefixes environment overrides, e.g. FLEETDASH_SSH_USER.
	EnvPrefix = "FLEETDASH"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'fleetdash config init' to create one, or pass --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleetdash.yaml in the current directory
// 3. ~/.config/fleetdash/config.yaml
// 4. /etc/fleetdash/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ConfigFileName))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, GlobalConfigDir, GlobalConfigFile))
	}
	candidates = append(candidates, filepath.Join(SystemConfigDir, GlobalConfigFile))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// LoadOrDefault loads the config found via Find, or returns defaults (with no
// hosts) when no file exists. The returned path is empty in the default case.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		v := newViper()
		cfg, err := parseConfig(v, "environment")
		if err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, source string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+source)
	}

	cfg.SSH.KeyPath = ExpandTilde(cfg.SSH.KeyPath)
	if cfg.Hosts == nil {
		cfg.Hosts = []HostConfig{}
	}
	return cfg, nil
}

// setDefaults registers every scalar default so env overrides resolve even
// when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("polling_interval_seconds", d.PollingIntervalSeconds)
	v.SetDefault("legacy_threshold_hours", d.LegacyThresholdHours)

	v.SetDefault("ssh.user", d.SSH.User)
	v.SetDefault("ssh.key_path", d.SSH.KeyPath)
	v.SetDefault("ssh.timeout", d.SSH.Timeout)
	v.SetDefault("ssh.command_timeout", d.SSH.CommandTimeout)
	v.SetDefault("ssh.known_hosts_policy", d.SSH.KnownHostsPolicy)

	v.SetDefault("alerts.enabled", d.Alerts.Enabled)
	v.SetDefault("alerts.session_cpu_warning", d.Alerts.SessionCPUWarning)
	v.SetDefault("alerts.session_memory_mb_warning", d.Alerts.SessionMemoryMBWarning)
	v.SetDefault("alerts.host_cpu_warning", d.Alerts.HostCPUWarning)
	v.SetDefault("alerts.host_memory_warning", d.Alerts.HostMemoryWarning)
	v.SetDefault("alerts.gpu_temp_warning", d.Alerts.GPUTempWarning)
	v.SetDefault("alerts.gpu_temp_critical", d.Alerts.GPUTempCritical)
	v.SetDefault("alerts.gpu_memory_warning", d.Alerts.GPUMemoryWarning)
	v.SetDefault("alerts.gpu_util_info", d.Alerts.GPUUtilInfo)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.refresh_rate_per_minute", d.Server.RefreshRatePerMinute)

	v.SetDefault("history.driver", d.History.Driver)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("history.retention_days", d.History.RetentionDays)
	v.SetDefault("history.memory_samples", d.History.MemorySamples)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel", d.Redis.Channel)

	v.SetDefault("log.level", d.Log.Level)
}
