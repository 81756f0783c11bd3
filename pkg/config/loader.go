package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration: the
// primary entry point for the process's configuration.
//
// Steps: load grace.yaml from configDir, expand environment variables,
// merge over the built-in defaults (user values override, via
// mergo.WithOverride), then validate.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"server_addr", cfg.Server.Addr,
		"autonomy_default_tier", cfg.Autonomy.DefaultTier,
		"sandbox_backend", cfg.Sandbox.Backend)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "grace.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No user file: defaults alone are a valid configuration.
			return defaultConfig(), nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var user YAMLConfig
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := defaultConfig()
	if err := mergeSection(&cfg.Server, user.Server); err != nil {
		return nil, fmt.Errorf("merging server config: %w", err)
	}
	if err := mergeSection(&cfg.Autonomy, user.Autonomy); err != nil {
		return nil, fmt.Errorf("merging autonomy config: %w", err)
	}
	if err := mergeSection(&cfg.Sandbox, user.Sandbox); err != nil {
		return nil, fmt.Errorf("merging sandbox config: %w", err)
	}
	if err := mergeSection(&cfg.Scheduler, user.Scheduler); err != nil {
		return nil, fmt.Errorf("merging scheduler config: %w", err)
	}
	if err := mergeSection(&cfg.Diagnostics, user.Diagnostics); err != nil {
		return nil, fmt.Errorf("merging diagnostics config: %w", err)
	}
	if err := mergeSection(&cfg.Retention, user.Retention); err != nil {
		return nil, fmt.Errorf("merging retention config: %w", err)
	}
	if err := mergeSection(&cfg.Audit, user.Audit); err != nil {
		return nil, fmt.Errorf("merging audit config: %w", err)
	}
	if err := mergeSection(&cfg.Mesh, user.Mesh); err != nil {
		return nil, fmt.Errorf("merging mesh config: %w", err)
	}
	if err := mergeSection(&cfg.Healer, user.Healer); err != nil {
		return nil, fmt.Errorf("merging healer config: %w", err)
	}
	if err := mergeSection(&cfg.Governance, user.Governance); err != nil {
		return nil, fmt.Errorf("merging governance config: %w", err)
	}
	if err := mergeSection(&cfg.Preflight, user.Preflight); err != nil {
		return nil, fmt.Errorf("merging preflight config: %w", err)
	}

	return cfg, nil
}

// mergeSection merges a user-provided section pointer onto dst's built-in
// default, non-zero user fields overriding. A nil user section leaves dst
// untouched.
func mergeSection[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	return mergo.Merge(dst, *src, mergo.WithOverride)
}
