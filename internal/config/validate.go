package config

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rileyhilliard/fleetdash/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report yaml key paths (ssh.timeout) instead of Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Validate checks the config for errors and returns a structured CONFIG error
// for the first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig, "Config is nil", "This is a bug; please report it")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return errors.WrapWithCode(err, errors.ErrConfig, "Config validation failed", "Check the config file")
	}

	seen := make(map[string]bool, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if seen[h.Name] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' is listed more than once", h.Name),
				"Host names identify hosts in alerts and history, so each must be unique")
		}
		seen[h.Name] = true
	}

	if cfg.Alerts.GPUTempWarning >= cfg.Alerts.GPUTempCritical {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("alerts.gpu_temp_warning (%d) must be below alerts.gpu_temp_critical (%d)",
				cfg.Alerts.GPUTempWarning, cfg.Alerts.GPUTempCritical),
			"Lower the warning threshold or raise the critical one")
	}

	if cfg.History.Driver == DriverMySQL && cfg.History.DSN == "" {
		return errors.New(errors.ErrConfig,
			"history.dsn is required for the mysql driver",
			"Example: user:pass@tcp(127.0.0.1:3306)/fleetdash?parseTime=true")
	}

	return nil
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.ssh.timeout"; drop the root type.
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}

	var want string
	switch fe.Tag() {
	case "required", "required_if":
		want = "is required"
	case "oneof":
		want = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		want = "must be at least " + fe.Param()
	case "gt":
		want = "must be greater than " + fe.Param()
	case "lte":
		want = "must be at most " + fe.Param()
	default:
		want = "failed the '" + fe.Tag() + "' check"
	}

	return errors.New(errors.ErrConfig,
		fmt.Sprintf("%s %s (got %v)", path, want, fe.Value()),
		"Fix the value in your config file, or remove it to use the default")
}
