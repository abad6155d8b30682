package monitor

import (
	"strings"

	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// The fixed command set run on every host. Each prints a small, line-oriented
// result for one parser in internal/monitor/parsers. Commands that may be
// missing on a host fall back to printing nothing.
const (
	// CmdCPU prints the user CPU percentage from one batch-mode top frame.
	CmdCPU = `top -bn1 | grep 'Cpu(s)' | awk '{print $2}' | cut -d'%' -f1`

	// CmdCPUFallback derives a busy percentage from the aggregate /proc/stat line.
	CmdCPUFallback = `grep 'cpu ' /proc/stat | awk '{usage=($2+$4)*100/($2+$4+$5)} END {print usage}'`

	// CmdMemory prints "used_mb total_mb percent".
	CmdMemory = `free -m | awk 'NR==2{printf "%d %d %.1f", $3, $2, $3*100/$2}'`

	// CmdLoadAvg prints the 1, 5 and 15 minute load averages.
	CmdLoadAvg = `cat /proc/loadavg | awk '{print $1, $2, $3}'`

	// CmdSessions prints one line per tmux session:
	// name|created|attached|windows|activity
	CmdSessions = `tmux list-sessions -F ` +
		`'#{session_name}|#{session_created}|#{session_attached}|#{session_windows}|#{session_activity}' ` +
		`2>/dev/null || echo ''`

	// CmdGPUs prints one CSV line per NVIDIA device.
	CmdGPUs = `nvidia-smi --query-gpu=index,name,power.draw,power.limit,` +
		`memory.used,memory.total,utilization.gpu,temperature.gpu ` +
		`--format=csv,noheader,nounits 2>/dev/null || echo ''`

	// CmdGPUProcesses prints one CSV line per compute process.
	CmdGPUProcesses = `nvidia-smi --query-compute-apps=pid,process_name,used_memory ` +
		`--format=csv,noheader,nounits 2>/dev/null || echo ''`
)

// killStatusPrefix marks the line carrying tmux's exit status, since Run
// doesn't report remote exit codes.
const killStatusPrefix = "fleetdash-exit:"

// KillSessionCommand returns the command that terminates the named tmux
// session. The "=" prefix makes tmux match the name exactly rather than as
// a prefix. tmux's stderr is folded into stdout and its exit status printed
// last; see ParseKillResult.
func KillSessionCommand(name string) string {
	return "tmux kill-session -t " + sshutil.ShellQuote("="+name) + " 2>&1; echo " + killStatusPrefix + "$?"
}

// ParseKillResult reads the output of KillSessionCommand. It returns whether
// tmux exited 0 and, on failure, what tmux printed.
func ParseKillResult(output string) (bool, string) {
	lines := strings.Split(strings.TrimRight(output, "\r\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, killStatusPrefix) {
		return false, strings.TrimSpace(output)
	}
	msg := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
	return strings.TrimPrefix(last, killStatusPrefix) == "0", msg
}
