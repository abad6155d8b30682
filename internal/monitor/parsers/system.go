// Package parsers turns raw remote command output into typed fields.
//
// Every parser is a pure function of its input text. On malformed input a
// parser returns a PARSE error together with whatever defaults the caller
// should use; callers log the error at debug level and carry on.
package parsers

import (
	"strconv"
	"strings"

	"github.com/rileyhilliard/fleetdash/internal/errors"
)

// ParseCPUPercent parses a single number such as "12.5" or "12,5".
// Some locales print a decimal comma in top's output.
func ParseCPUPercent(output string) (float64, error) {
	s := strings.TrimSpace(output)
	if s == "" {
		return 0, errors.Parse("cpu", output)
	}
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Parse("cpu", output)
	}
	return v, nil
}

// Memory holds the three fields of the memory command.
type Memory struct {
	UsedMB  int64
	TotalMB int64
	Percent float64
}

// ParseMemory parses "used_mb total_mb percent". Each field is parsed on its
// own: a malformed or missing field stays zero while the others are kept,
// and the returned error reports the first problem.
func ParseMemory(output string) (Memory, error) {
	var m Memory
	var firstErr error
	fail := func() {
		if firstErr == nil {
			firstErr = errors.Parse("memory", output)
		}
	}

	fields := strings.Fields(output)
	if len(fields) < 3 {
		fail()
	}

	if len(fields) > 0 {
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			m.UsedMB = v
		} else {
			fail()
		}
	}
	if len(fields) > 1 {
		if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			m.TotalMB = v
		} else {
			fail()
		}
	}
	if len(fields) > 2 {
		if v, err := strconv.ParseFloat(fields[2], 64); err == nil {
			m.Percent = v
		} else {
			fail()
		}
	}

	return m, firstErr
}

// ParseLoadAvg parses "1m 5m 15m". It returns nil when the load is unknown,
// which is distinct from a machine that is actually idle.
func ParseLoadAvg(output string) (*[3]float64, error) {
	fields := strings.Fields(output)
	if len(fields) < 3 {
		return nil, errors.Parse("load average", output)
	}

	var load [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, errors.Parse("load average", output)
		}
		load[i] = v
	}
	return &load, nil
}
