package doctor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

// toolsCommand prints "name:yes" or "name:no" for each tool the probes use.
const toolsCommand = `for t in tmux top free nvidia-smi; do ` +
	`if command -v "$t" >/dev/null 2>&1; then echo "$t:yes"; else echo "$t:no"; fi; done`

// HostCheck connects to one host and verifies the tools the collector runs
// are installed. Missing tools only blank out their metrics, so they warn.
type HostCheck struct {
	Host           config.HostConfig
	Dialer         sshutil.Dialer
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func (c *HostCheck) Name() string     { return "host_" + c.Host.Name }
func (c *HostCheck) Category() string { return CategoryHosts }

func (c *HostCheck) Run(ctx context.Context) CheckResult {
	dialCtx := ctx
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout+c.CommandTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := sshutil.RunOnce(dialCtx, c.Dialer, c.Host.Address, toolsCommand, c.CommandTimeout)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: %s", c.Host.Name, errors.Message(err)),
			Suggestion: connectSuggestion(err, c.Host),
		}
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	var missing []string
	for tool, ok := range parseTools(out) {
		if ok || (tool == "nvidia-smi" && !c.Host.HasGPU) {
			continue
		}
		missing = append(missing, tool)
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s: connected in %s, missing %s", c.Host.Name, elapsed, strings.Join(missing, ", ")),
			Suggestion: "Install them on the host or its metrics will read as empty",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: connected in %s", c.Host.Name, elapsed),
	}
}

// parseTools reads toolsCommand output. A tool absent from the output is
// reported missing.
func parseTools(out string) map[string]bool {
	tools := map[string]bool{"tmux": false, "top": false, "free": false, "nvidia-smi": false}
	for _, line := range strings.Split(out, "\n") {
		name, found, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		if _, known := tools[name]; known {
			tools[name] = found == "yes"
		}
	}
	return tools
}

func connectSuggestion(err error, h config.HostConfig) string {
	switch {
	case errors.IsCode(err, errors.ErrTimeout):
		return fmt.Sprintf("%s may be offline or firewalled", h.Address)
	case errors.IsCode(err, errors.ErrSSH):
		return "Try it by hand: ssh " + h.Address
	default:
		return ""
	}
}

// NewHostsChecks creates one check per configured host, in config order.
func NewHostsChecks(cfg *config.Config, dialer sshutil.Dialer) []Check {
	checks := make([]Check, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		checks = append(checks, &HostCheck{
			Host:           h,
			Dialer:         dialer,
			ConnectTimeout: cfg.SSH.ConnectTimeout(),
			CommandTimeout: cfg.SSH.RunTimeout(),
		})
	}
	return checks
}
