package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate performs comprehensive validation on a resolved configuration,
// failing fast at the first section that rejects it.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg.Server); err != nil {
		return NewValidationError("server", "", err)
	}
	if err := structValidator.Struct(cfg.Autonomy); err != nil {
		return NewValidationError("autonomy", "", err)
	}
	if err := structValidator.Struct(cfg.Sandbox); err != nil {
		return NewValidationError("sandbox", "", err)
	}
	if cfg.Sandbox.Backend == "docker" && cfg.Sandbox.DockerImage == "" {
		return NewValidationError("sandbox", "docker_image", fmt.Errorf("required when backend is \"docker\""))
	}
	if err := structValidator.Struct(cfg.Scheduler); err != nil {
		return NewValidationError("scheduler", "", err)
	}
	if cfg.Scheduler.SteadyIntervalMin > 0 && cfg.Scheduler.SteadyIntervalMax > 0 &&
		cfg.Scheduler.SteadyIntervalMin >= cfg.Scheduler.SteadyIntervalMax {
		return NewValidationError("scheduler", "steady_interval_min",
			fmt.Errorf("must be less than steady_interval_max"))
	}
	if err := validateDiagnostics(cfg.Diagnostics); err != nil {
		return err
	}
	if cfg.Audit.Dir == "" {
		return NewValidationError("audit", "dir", fmt.Errorf("required"))
	}
	if cfg.Mesh.DefaultOverflow != "" {
		switch cfg.Mesh.DefaultOverflow {
		case "drop_oldest", "drop_newest", "block_publisher", "spill_to_audit_log":
		default:
			return NewValidationError("mesh", "default_overflow", fmt.Errorf("unrecognized overflow policy %q", cfg.Mesh.DefaultOverflow))
		}
	}
	return nil
}

func validateDiagnostics(d DiagnosticsConfig) error {
	if !d.Enabled {
		return nil
	}
	if d.Channel == "" {
		return NewValidationError("diagnostics", "channel", fmt.Errorf("required when diagnostics is enabled"))
	}
	if d.TokenEnv == "" {
		return NewValidationError("diagnostics", "token_env", fmt.Errorf("required when diagnostics is enabled"))
	}
	return nil
}
