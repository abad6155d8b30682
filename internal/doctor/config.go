package doctor

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
)

// ConfigFileCheck verifies a config file can be found.
type ConfigFileCheck struct {
	Path string
}

func (c *ConfigFileCheck) Name() string     { return "config_file" }
func (c *ConfigFileCheck) Category() string { return CategoryConfig }

func (c *ConfigFileCheck) Run(_ context.Context) CheckResult {
	if c.Path == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "No config file found",
			Suggestion: "Create one with: fleetdash config init",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Config file: " + c.Path,
	}
}

// ConfigValidCheck loads and validates the config file. On success Config
// holds the result for the checks that need it.
type ConfigValidCheck struct {
	Path   string
	Config *config.Config
}

func (c *ConfigValidCheck) Name() string     { return "config_valid" }
func (c *ConfigValidCheck) Category() string { return CategoryConfig }

func (c *ConfigValidCheck) Run(_ context.Context) CheckResult {
	if c.Path == "" {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusFail,
			Message: "Config validation skipped (no file)",
		}
	}

	cfg, err := config.Load(c.Path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		result := CheckResult{
			Name:    c.Name(),
			Status:  StatusFail,
			Message: "Config is invalid: " + errors.Message(err),
		}
		var fe *errors.Error
		if stderrors.As(err, &fe) {
			result.Suggestion = fe.Suggestion
		}
		return result
	}
	c.Config = cfg

	if len(cfg.Hosts) == 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Config is valid but lists no hosts",
			Suggestion: "Add one with: fleetdash config add-host NAME",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Config is valid (%d host%s)", len(cfg.Hosts), pluralize(len(cfg.Hosts))),
	}
}

// NewConfigChecks creates the config checks for path ("" when none was found).
func NewConfigChecks(path string) []Check {
	return []Check{
		&ConfigFileCheck{Path: path},
		&ConfigValidCheck{Path: path},
	}
}
