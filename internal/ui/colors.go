package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// DisableColors switches every style to plain text.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ConfigureColors turns colors off for pipes and redirects, and whenever
// NO_COLOR or noColor asks for it.
func ConfigureColors(w io.Writer, noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		DisableColors()
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// HostStatusColor maps a host status to its display color.
func HostStatusColor(s fleet.HostStatus) lipgloss.Color {
	switch s {
	case fleet.HostOnline:
		return ColorSuccess
	case fleet.HostDegraded:
		return ColorWarning
	default:
		return ColorError
	}
}

// SeverityColor maps an alert severity to its display color.
func SeverityColor(s fleet.Severity) lipgloss.Color {
	switch s {
	case fleet.SeverityCritical:
		return ColorError
	case fleet.SeverityWarning:
		return ColorWarning
	case fleet.SeverityInfo:
		return ColorInfo
	default:
		return ColorMuted
	}
}

func styled(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}
