package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a Bubbles table with the fleetdash styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.
		Foreground(ColorPrimary)
	// Nothing is focused in one-shot output, so the selected row must look
	// like every other row.
	s.Selected = s.Cell

	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	return NewTable(columns, tableRows).View()
}

var hostColumns = []struct {
	title string
	width int
}{
	{"", 2},
	{"HOST", 16},
	{"STATUS", 10},
	{"CPU", 8},
	{"MEM", 8},
	{"LOAD", 16},
	{"GPU", 14},
	{"SESSIONS", 9},
}

// RenderHostTable renders one line per host. Unreachable hosts carry their
// error message at the end of the line.
func RenderHostTable(hosts []fleet.Host) string {
	if len(hosts) == 0 {
		return "No hosts configured"
	}

	mutedStyle := styled(ColorMuted)
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)

	var b strings.Builder
	var header strings.Builder
	for _, c := range hostColumns {
		header.WriteString(padRight(c.title, c.width))
	}
	b.WriteString(headerStyle.Render(strings.TrimRight(header.String(), " ")) + "\n")

	for i := range hosts {
		h := &hosts[i]
		statusStyle := styled(HostStatusColor(h.Status))

		cells := []string{
			statusStyle.Render(HostStatusSymbol(h.Status)),
			h.Hostname,
			statusStyle.Render(string(h.Status)),
			"-", "-", "-", "-", "-",
		}
		if h.Online() {
			cells[3] = formatPercent(h.CPUPercent)
			cells[4] = formatPercent(h.MemoryPercent)
			cells[5] = FormatLoad(h.LoadAvg)
			cells[6] = gpuSummary(h)
			cells[7] = fmt.Sprintf("%d", len(h.Sessions))
		}

		var line strings.Builder
		for j, c := range hostColumns {
			line.WriteString(padRight(cells[j], c.width))
		}
		row := strings.TrimRight(line.String(), " ")
		if h.ErrorMessage != "" {
			row += " " + mutedStyle.Render(h.ErrorMessage)
		}
		b.WriteString(row + "\n")
	}

	return b.String()
}

// RenderSessionTable lists every tmux session in the snapshot.
func RenderSessionTable(hosts []fleet.Host) string {
	var rows [][]string
	for _, h := range hosts {
		for _, s := range h.Sessions {
			attached := SymbolDetached
			if s.Attached {
				attached = SymbolAttached
			}
			idle := "-"
			if d, ok := s.Detached(); ok {
				idle = FormatIdle(d)
			}
			rows = append(rows, []string{
				attached + " " + s.ID,
				string(s.Status),
				fmt.Sprintf("%d", s.WindowCount),
				idle,
			})
		}
	}
	if len(rows) == 0 {
		return "No tmux sessions"
	}

	return RenderSimpleTable([]TableColumn{
		{Title: "SESSION", Width: 32},
		{Title: "STATUS", Width: 8},
		{Title: "WINDOWS", Width: 8},
		{Title: "DETACHED", Width: 10},
	}, rows)
}

// RenderAlertTable lists alerts in the order given, most severe first as
// the engine returns them.
func RenderAlertTable(alerts []fleet.Alert) string {
	if len(alerts) == 0 {
		return styled(ColorSuccess).Render(SymbolAcked) + " No active alerts"
	}

	mutedStyle := styled(ColorMuted)
	var b strings.Builder
	for _, a := range alerts {
		sev := styled(SeverityColor(a.Severity)).Render(padRight(strings.ToUpper(string(a.Severity)), 9))
		line := fmt.Sprintf("%s %s %s %s %s",
			styled(SeverityColor(a.Severity)).Render(SymbolWarning),
			sev,
			mutedStyle.Render(a.ID),
			padRight(a.Host, 16),
			a.Message)
		if a.Acknowledged {
			line += " " + mutedStyle.Render("("+SymbolAcked+" acknowledged)")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// FormatLoad renders a load average triple, or "-" when unknown.
func FormatLoad(load *[3]float64) string {
	if load == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %.2f %.2f", load[0], load[1], load[2])
}

// FormatIdle renders a detach duration compactly: 45m, 3h12m, 4d2h.
func FormatIdle(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		return fmt.Sprintf("%dh%dm", h, int(d.Minutes())-h*60)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd%dh", days, int(d.Hours())-days*24)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func gpuSummary(h *fleet.Host) string {
	if !h.HasGPU {
		return "-"
	}
	g := h.PrimaryGPU()
	if g == nil {
		return "n/a"
	}
	s := fmt.Sprintf("%d°C %d%%", g.TemperatureC, g.UtilizationPercent)
	if len(h.GPUs) > 1 {
		s += fmt.Sprintf(" +%d", len(h.GPUs)-1)
	}
	return s
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	// Account for ANSI codes when calculating visible length
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
