package server

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

// DaemonStats describes the fleetdash process itself.
type DaemonStats struct {
	PID         int         `json:"pid"`
	CPUPercent  float64     `json:"cpu_percent"`
	RSSMB       float64     `json:"rss_mb"`
	Threads     int32       `json:"threads"`
	Goroutines  int         `json:"goroutines"`
	LoadAvg     *[3]float64 `json:"load_avg"`
	GoVersion   string      `json:"go_version"`
	OpenFiles   int         `json:"open_files,omitempty"`
	WSClients   int         `json:"websocket_clients"`
	PooledConns int         `json:"pooled_connections"`
}

// collectDaemonStats samples this process. Fields gopsutil can't read on
// the current platform are left zero.
func collectDaemonStats(ctx context.Context) DaemonStats {
	stats := DaemonStats{
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	proc, err := process.NewProcessWithContext(ctx, int32(stats.PID))
	if err == nil {
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = pct
		}
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			stats.RSSMB = float64(mem.RSS) / (1024 * 1024)
		}
		if n, err := proc.NumThreadsWithContext(ctx); err == nil {
			stats.Threads = n
		}
		if files, err := proc.OpenFilesWithContext(ctx); err == nil {
			stats.OpenFiles = len(files)
		}
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		stats.LoadAvg = &[3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return stats
}
