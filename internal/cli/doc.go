// Package cli implements the fleetdash command-line interface.
//
// Each cobra command is a thin shell: flags are parsed into package-level
// variables, and RunE hands off to a plain function that takes its
// dependencies (config, dialer, writer) as arguments so it can be tested
// without a real SSH fleet.
//
//	fleetdash serve                    - run the polling daemon, HTTP API and WebSocket hub
//	fleetdash collect [--json]         - poll every host once and print the result
//	fleetdash watch                    - follow a running daemon through its Redis mirror
//	fleetdash config init|validate     - create or check the config file
//	fleetdash config add-host NAME     - append a host, resolving ~/.ssh/config aliases
//	fleetdash doctor [--json]          - check config, SSH setup and every host's tooling
//	fleetdash version                  - print build information
//
// Global flags (--config, --verbose, --no-color) live on the root command.
package cli
