// Package monitor collects a fleet snapshot over SSH.
//
// # Key Components
//
//	Collector - fans out one probe per configured host and returns one
//	            fleet.Host per host, in config order
//	Probe     - runs the fixed command set on one connection and fills in
//	            CPU, memory, load, tmux sessions and (on GPU hosts) GPUs
//	Pool      - keeps SSH connections alive between polling cycles
//
// # Status
//
// A host is ONLINE as soon as its connection is up. Parse failures and
// failed commands only leave fields at their defaults. A connect error or
// timeout makes the host OFFLINE; anything else that goes wrong during a
// probe (including a panic) makes it DEGRADED. CollectAll itself never fails.
//
// Parsing lives in the parsers subpackage as pure functions, so each format
// is tested without a connection.
package monitor
