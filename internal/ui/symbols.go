package ui

import "github.com/rileyhilliard/fleetdash/internal/fleet"

// Status symbols.
const (
	SymbolOnline   = "●"
	SymbolOffline  = "✗"
	SymbolDegraded = "◐"
	SymbolAttached = "▸"
	SymbolDetached = "○"
	SymbolWarning  = "⚠"
	SymbolAcked    = "✓"
)

// HostStatusSymbol returns the indicator for a host status.
func HostStatusSymbol(s fleet.HostStatus) string {
	switch s {
	case fleet.HostOnline:
		return SymbolOnline
	case fleet.HostDegraded:
		return SymbolDegraded
	default:
		return SymbolOffline
	}
}
