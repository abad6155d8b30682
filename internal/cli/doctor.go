package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/doctor"
	"github.com/rileyhilliard/fleetdash/internal/ui"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

var doctorJSON bool

// errChecksFailed exits non-zero after the report has already been printed.
var errChecksFailed = stderrors.New("doctor checks failed")

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose config, SSH setup and host reachability",
	Long: `Check that the config loads, the SSH key is usable by a daemon, and every
configured host accepts a connection and has the tools the probes run
(tmux, top, free, and nvidia-smi on GPU hosts).

Exits non-zero when any check fails.

Examples:
  fleetdash doctor
  fleetdash doctor --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		machineMode = doctorJSON
		path, err := config.Find(cfgFile)
		if err != nil {
			return err
		}
		return doctorCommand(cmd.Context(), path, newDialer, cmd.OutOrStdout(), doctorJSON)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(doctorCmd)
}

// DoctorOutput represents the JSON output for doctor command.
type DoctorOutput struct {
	Categories []doctor.Group `json:"categories"`
	Summary    SummaryOutput  `json:"summary"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	AllClear bool `json:"all_clear"`
}

// doctorCommand runs the config checks first, since the SSH and host checks
// need the loaded config.
func doctorCommand(ctx context.Context, path string, dialerFor func(*config.Config) sshutil.Dialer, w io.Writer, asJSON bool) error {
	configChecks := doctor.NewConfigChecks(path)
	checks := append([]doctor.Check(nil), configChecks...)
	results := doctor.RunAll(ctx, configChecks)

	var cfg *config.Config
	for _, c := range configChecks {
		if vc, ok := c.(*doctor.ConfigValidCheck); ok {
			cfg = vc.Config
		}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	sshChecks := doctor.NewSSHChecks(cfg.SSH)
	hostChecks := doctor.NewHostsChecks(cfg, dialerFor(cfg))
	checks = append(checks, sshChecks...)
	checks = append(checks, hostChecks...)
	results = append(results, doctor.RunAll(ctx, sshChecks)...)
	results = append(results, doctor.RunAllParallel(ctx, hostChecks)...)

	if asJSON {
		counts := doctor.CountByStatus(results)
		err := WriteJSONSuccess(w, DoctorOutput{
			Categories: doctor.GroupByCategory(checks, results),
			Summary: SummaryOutput{
				Pass:     counts[doctor.StatusPass],
				Warn:     counts[doctor.StatusWarn],
				Fail:     counts[doctor.StatusFail],
				AllClear: !doctor.HasIssues(results),
			},
		})
		if err != nil {
			return err
		}
	} else {
		renderDoctorText(w, doctor.GroupByCategory(checks, results), results)
	}

	if doctor.HasFailures(results) {
		return errChecksFailed
	}
	return nil
}

func renderDoctorText(w io.Writer, groups []doctor.Group, results []doctor.CheckResult) {
	headerStyle := lipgloss.NewStyle().Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("fleetdash diagnostic report"))
	fmt.Fprintln(w)

	for _, g := range groups {
		fmt.Fprintln(w, headerStyle.Render(g.Name))
		for _, r := range g.Results {
			symbol, color := ui.SymbolAcked, ui.ColorSuccess
			switch r.Status {
			case doctor.StatusWarn:
				symbol, color = ui.SymbolWarning, ui.ColorWarning
			case doctor.StatusFail:
				symbol, color = ui.SymbolOffline, ui.ColorError
			}
			fmt.Fprintf(w, "  %s %s\n", lipgloss.NewStyle().Foreground(color).Render(symbol), r.Message)

			if r.Suggestion != "" && r.Status != doctor.StatusPass {
				for _, line := range strings.Split(r.Suggestion, "\n") {
					fmt.Fprintf(w, "    %s\n", mutedStyle.Render(line))
				}
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("━", 60))
	if doctor.HasIssues(results) {
		fmt.Fprintf(w, "%s %s\n", lipgloss.NewStyle().Foreground(ui.ColorError).Render(ui.SymbolOffline), doctor.Summary(results))
	} else {
		fmt.Fprintf(w, "%s %s\n", lipgloss.NewStyle().Foreground(ui.ColorSuccess).Render(ui.SymbolAcked), doctor.Summary(results))
	}
}
