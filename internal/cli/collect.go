package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/alert"
	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/monitor"
	"github.com/rileyhilliard/fleetdash/internal/ui"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

var (
	collectJSON     bool
	collectHosts    []string
	collectSessions bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Poll every host once and print the fleet",
	Long: `Run a single polling cycle against the configured hosts and print a
host table followed by the alerts that cycle would raise.

Examples:
  fleetdash collect
  fleetdash collect --sessions
  fleetdash collect --hosts gpu-01,gpu-02 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		machineMode = collectJSON
		log := stderrLogger(cmd.ErrOrStderr())

		cfg, _, err := loadConfig(log)
		if err != nil {
			return err
		}
		opts := collectOptions{JSON: collectJSON, Hosts: collectHosts, Sessions: collectSessions}
		return collectCommand(cmd.Context(), cfg, newDialer(cfg), opts, cmd.OutOrStdout(), log)
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectJSON, "json", false, "output in JSON format")
	collectCmd.Flags().StringSliceVar(&collectHosts, "hosts", nil, "only poll these hosts (comma-separated)")
	collectCmd.Flags().BoolVar(&collectSessions, "sessions", false, "also list tmux sessions")
	rootCmd.AddCommand(collectCmd)
}

type collectOptions struct {
	JSON     bool
	Hosts    []string
	Sessions bool
}

// CollectOutput is the --json payload of collect.
type CollectOutput struct {
	Hosts     []fleet.Host  `json:"hosts"`
	Alerts    []fleet.Alert `json:"alerts"`
	Timestamp time.Time     `json:"timestamp"`
}

func collectCommand(ctx context.Context, cfg *config.Config, dialer sshutil.Dialer, opts collectOptions, w io.Writer, log logger.Logger) error {
	hosts := cfg.FilterHosts(opts.Hosts)
	if len(hosts) == 0 {
		if len(opts.Hosts) > 0 {
			return errors.New(errors.ErrConfig,
				"No configured host matches "+strings.Join(opts.Hosts, ", "),
				"Configured hosts: "+strings.Join(cfg.HostNames(), ", "))
		}
		return errors.New(errors.ErrConfig,
			"No hosts configured",
			"Add one with 'fleetdash config add-host NAME'")
	}

	collector := monitor.NewCollector(dialer, monitor.Options{
		ConnectTimeout:  cfg.SSH.ConnectTimeout(),
		CommandTimeout:  cfg.SSH.RunTimeout(),
		LegacyThreshold: cfg.LegacyThreshold(),
		Logger:          logger.Named(log, "collector"),
	})
	defer collector.Close()

	snapshot := collector.CollectAll(ctx, hosts)
	engine := alert.NewEngine(cfg.Alerts, cfg.LegacyThreshold(), alert.WithLogger(logger.Named(log, "alerts")))
	alerts := engine.Evaluate(snapshot)

	if opts.JSON {
		return WriteJSONSuccess(w, CollectOutput{
			Hosts:     snapshot,
			Alerts:    alerts,
			Timestamp: time.Now().UTC(),
		})
	}

	fmt.Fprint(w, ui.RenderHostTable(snapshot))
	if opts.Sessions {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.RenderSessionTable(snapshot))
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, ui.RenderAlertTable(alerts))
	return nil
}
