package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/pubsub"
	"github.com/rileyhilliard/fleetdash/internal/ui"
)

var watchWidth int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running daemon through its Redis event mirror",
	Long: `Subscribe to the Redis channel a running 'fleetdash serve' mirrors its
events to, and print a CPU sparkline per host after every polling cycle.

Requires redis.enabled: true (and the same redis settings) on both sides.

Examples:
  fleetdash watch
  fleetdash watch --width 60`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := stderrLogger(cmd.ErrOrStderr())
		cfg, _, err := loadConfig(log)
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled {
			return errors.New(errors.ErrConfig,
				"Redis mirroring is disabled",
				"Set redis.enabled: true here and on the daemon, then restart 'fleetdash serve'")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := pubsub.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		return watchCommand(ctx, client, cfg.Redis.Channel, watchWidth, cmd.OutOrStdout(), log)
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchWidth, "width", 40, "number of cycles shown per sparkline")
	rootCmd.AddCommand(watchCmd)
}

// trendBook keeps the last width CPU readings per host.
type trendBook struct {
	width int
	cpu   map[string][]float64
}

func newTrendBook(width int) *trendBook {
	if width < 1 {
		width = 1
	}
	return &trendBook{width: width, cpu: make(map[string][]float64)}
}

func (b *trendBook) add(hosts []fleet.Host) {
	for i := range hosts {
		if !hosts[i].Online() {
			continue
		}
		name := hosts[i].Hostname
		series := append(b.cpu[name], hosts[i].CPUPercent)
		if len(series) > b.width {
			series = series[len(series)-b.width:]
		}
		b.cpu[name] = series
	}
}

func (b *trendBook) render(hosts []fleet.Host) []string {
	lines := make([]string, 0, len(hosts))
	for i := range hosts {
		h := &hosts[i]
		line := ui.HostStatusSymbol(h.Status) + " " + ui.RenderTrend(h.Hostname, b.cpu[h.Hostname], b.width)
		if !h.Online() && h.ErrorMessage != "" {
			line += "  " + string(h.Status) + ": " + h.ErrorMessage
		}
		lines = append(lines, line)
	}
	return lines
}

func watchCommand(ctx context.Context, client *redis.Client, channel string, width int, w io.Writer, log logger.Logger) error {
	book := newTrendBook(width)
	fmt.Fprintf(w, "Watching %s (Ctrl+C to stop)\n", channel)

	return pubsub.Subscribe(ctx, client, channel, log, func(ev pubsub.Received) {
		at := ev.Timestamp.Local().Format("15:04:05")

		switch ev.Event {
		case fleet.EventHostsUpdate, fleet.EventConnected:
			var snap fleet.Snapshot
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				log.Debug("watch: bad %s payload: %v", ev.Event, err)
				return
			}
			book.add(snap.Hosts)

			active := 0
			for _, a := range snap.Alerts {
				if !a.Acknowledged {
					active++
				}
			}
			fmt.Fprintf(w, "\n%s  %d hosts, %d active alerts\n", at, len(snap.Hosts), active)
			for _, line := range book.render(snap.Hosts) {
				fmt.Fprintln(w, line)
			}
		case fleet.EventAlertAcknowledged:
			var ack fleet.AckEvent
			if err := json.Unmarshal(ev.Data, &ack); err != nil {
				log.Debug("watch: bad %s payload: %v", ev.Event, err)
				return
			}
			fmt.Fprintf(w, "%s  alert %s acknowledged\n", at, ack.ID)
		}
	})
}
