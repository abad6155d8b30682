package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/monitor/parsers"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// Probe runs the command set on one connected host and fills in its Host
// record. Every step is independent: a failed command or unparseable output
// leaves that step's fields at their defaults and the next step still runs.
type Probe struct {
	// CommandTimeout bounds each remote command. Zero means no bound beyond ctx.
	CommandTimeout time.Duration
	// LegacyThreshold is the detached idle time after which a session is LEGACY.
	LegacyThreshold time.Duration
	// Now is the clock used for session idle times.
	Now func() time.Time
	Log logger.Logger
}

// Run populates host from conn. host.Hostname must already be set.
func (p *Probe) Run(ctx context.Context, conn sshutil.Conn, host *fleet.Host, hasGPU bool) {
	p.collectCPU(ctx, conn, host)
	p.collectMemory(ctx, conn, host)
	p.collectLoad(ctx, conn, host)
	p.collectSessions(ctx, conn, host)
	if hasGPU {
		p.collectGPUs(ctx, conn, host)
	}
}

// run executes cmd and returns trimmed stdout. Any failure reads as empty
// output: the caller can't distinguish it from a command that printed
// nothing, and doesn't need to.
func (p *Probe) run(ctx context.Context, conn sshutil.Conn, host *fleet.Host, cmd string) string {
	if p.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.CommandTimeout)
		defer cancel()
	}

	out, err := conn.Run(ctx, cmd)
	if err != nil {
		p.log().Debug("%s: command failed: %s", host.Hostname, errors.Message(err))
		return ""
	}
	return strings.TrimSpace(out)
}

func (p *Probe) collectCPU(ctx context.Context, conn sshutil.Conn, host *fleet.Host) {
	v, err := parsers.ParseCPUPercent(p.run(ctx, conn, host, CmdCPU))
	if err != nil {
		p.parseFailed(host, err)
		v, err = parsers.ParseCPUPercent(p.run(ctx, conn, host, CmdCPUFallback))
		if err != nil {
			p.parseFailed(host, err)
			v = 0
		}
	}
	host.CPUPercent = v
}

func (p *Probe) collectMemory(ctx context.Context, conn sshutil.Conn, host *fleet.Host) {
	m, err := parsers.ParseMemory(p.run(ctx, conn, host, CmdMemory))
	if err != nil {
		p.parseFailed(host, err)
	}
	host.MemoryUsedMB = m.UsedMB
	host.MemoryTotalMB = m.TotalMB
	host.MemoryPercent = m.Percent
}

func (p *Probe) collectLoad(ctx context.Context, conn sshutil.Conn, host *fleet.Host) {
	load, err := parsers.ParseLoadAvg(p.run(ctx, conn, host, CmdLoadAvg))
	if err != nil {
		p.parseFailed(host, err)
	}
	host.LoadAvg = load
}

func (p *Probe) collectSessions(ctx context.Context, conn sshutil.Conn, host *fleet.Host) {
	out := p.run(ctx, conn, host, CmdSessions)
	if out == "" {
		return
	}
	sessions, err := parsers.ParseSessions(out, host.Hostname, p.now(), p.LegacyThreshold)
	if err != nil {
		p.parseFailed(host, err)
	}
	if sessions != nil {
		host.Sessions = sessions
	}
}

// collectGPUs parses processes before devices so they can be merged by index.
func (p *Probe) collectGPUs(ctx context.Context, conn sshutil.Conn, host *fleet.Host) {
	gpuOut := p.run(ctx, conn, host, CmdGPUs)
	if gpuOut == "" {
		return
	}

	procs, err := parsers.ParseGPUProcesses(p.run(ctx, conn, host, CmdGPUProcesses))
	if err != nil {
		p.parseFailed(host, err)
	}

	gpus, err := parsers.ParseGPUs(gpuOut, procs)
	if err != nil {
		p.parseFailed(host, err)
	}
	if gpus != nil {
		host.GPUs = gpus
	}
}

// parseFailed logs at debug only; parse failures never change host status.
func (p *Probe) parseFailed(host *fleet.Host, err error) {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range multi.Unwrap() {
			p.parseFailed(host, e)
		}
		return
	}
	p.log().Debug("%s: %s", host.Hostname, errors.Message(err))
}

func (p *Probe) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Probe) log() logger.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logger.Noop()
}
