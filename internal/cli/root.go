package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/ui"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// Global flags
var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetdash",
	Short: "Watch tmux sessions, load and GPUs across a fleet of hosts",
	Long: `fleetdash polls a fleet of hosts over SSH, tracks their tmux sessions,
CPU, memory and GPUs, raises alerts when thresholds are crossed, and serves
the live state over HTTP and WebSocket.

Examples:
  fleetdash config init
  fleetdash collect
  fleetdash serve --config /etc/fleetdash/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColors(cmd.OutOrStdout(), noColor)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./fleetdash.yaml, then ~/.config/fleetdash/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Config returns the --config flag value.
func Config() string {
	return cfgFile
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if stderrors.Is(err, errChecksFailed) {
			os.Exit(1)
		}
		if machineMode {
			_ = WriteJSONFromError(os.Stdout, err)
		} else {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

// loadConfig resolves, loads and validates the config. Without a config
// file the defaults are used and the fleet is empty.
func loadConfig(log logger.Logger) (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		log.Warn("no config file found, running with defaults and no hosts (try 'fleetdash config init')")
	} else {
		log.Debug("loaded config from %s", path)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// logLevel is the configured level, unless --verbose asks for debug.
func logLevel(cfg *config.Config) string {
	if verbose {
		return "debug"
	}
	if cfg == nil {
		return "info"
	}
	return cfg.Log.Level
}

// stderrLogger is used by one-shot commands whose stdout is the result.
func stderrLogger(w io.Writer) logger.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.NewTo(w, level)
}

func newDialer(cfg *config.Config) sshutil.Dialer {
	return sshutil.NewDialer(sshutil.Options{
		User:             cfg.SSH.User,
		KeyPath:          cfg.SSH.KeyPath,
		Timeout:          cfg.SSH.ConnectTimeout(),
		KnownHostsPolicy: cfg.SSH.KnownHostsPolicy,
	})
}
