package parsers

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// gpuFields is the column count of the --query-gpu output:
// index,name,power.draw,power.limit,memory.used,memory.total,utilization.gpu,temperature.gpu
const gpuFields = 8

// ParseGPUProcesses parses nvidia-smi --query-compute-apps output
// (pid,process_name,used_memory) into a grouping by GPU index.
//
// The query carries no GPU index, so every process is attributed to GPU 0.
// Malformed lines are skipped and reported in the joined error.
func ParseGPUProcesses(output string) (map[int][]fleet.GPUProcess, error) {
	byGPU := make(map[int][]fleet.GPUProcess)
	var errs []error

	for _, line := range csvLines(output) {
		parts := splitCSV(line)
		if len(parts) < 3 {
			errs = append(errs, errors.Parse("gpu process line", line))
			continue
		}

		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			errs = append(errs, errors.Parse("gpu process line", line))
			continue
		}
		mem, err := parseMB(parts[2])
		if err != nil {
			errs = append(errs, errors.Parse("gpu process line", line))
			continue
		}

		byGPU[0] = append(byGPU[0], fleet.GPUProcess{PID: pid, Name: parts[1], MemoryMB: mem})
	}

	return byGPU, stderrors.Join(errs...)
}

// ParseGPUs parses nvidia-smi --query-gpu output, one CSV line per device,
// and attaches processes from procs by index. A line with the wrong field
// count or a non-numeric field is skipped and reported in the joined error.
// Empty fields and "[N/A]" (passively cooled or power-unmetered boards) read
// as zero.
func ParseGPUs(output string, procs map[int][]fleet.GPUProcess) ([]fleet.GPU, error) {
	var gpus []fleet.GPU
	var errs []error

	for _, line := range csvLines(output) {
		g, err := parseGPULine(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.Processes = procs[g.Index]
		if g.Processes == nil {
			g.Processes = []fleet.GPUProcess{}
		}
		gpus = append(gpus, g)
	}

	return gpus, stderrors.Join(errs...)
}

func parseGPULine(line string) (fleet.GPU, error) {
	parts := splitCSV(line)
	if len(parts) < gpuFields {
		return fleet.GPU{}, errors.Parse("gpu line", line)
	}

	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return fleet.GPU{}, errors.Parse("gpu line", line)
	}

	g := fleet.GPU{Index: index, Name: parts[1]}

	ok := true
	num := func(s string) float64 {
		v, err := parseOptionalFloat(s)
		if err != nil {
			ok = false
		}
		return v
	}

	g.PowerDrawWatts = num(parts[2])
	g.PowerLimitWatts = num(parts[3])
	g.MemoryUsedMB = int64(num(parts[4]))
	g.MemoryTotalMB = int64(num(parts[5]))
	g.UtilizationPercent = int(num(parts[6]))
	g.TemperatureC = int(num(parts[7]))

	if !ok {
		return fleet.GPU{}, errors.Parse("gpu line", line)
	}

	g.MemoryPercent = fleet.MemoryPercentOf(g.MemoryUsedMB, g.MemoryTotalMB)
	return g, nil
}

// csvLines returns the non-blank lines that contain at least one comma.
func csvLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ",") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func splitCSV(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" || s == "[N/A]" || s == "N/A" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseMB(s string) (int64, error) {
	v, err := parseOptionalFloat(s)
	return int64(v), err
}
