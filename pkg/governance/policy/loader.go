package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads constitution.yaml, guardrails.yaml, and whitelist.yaml from
// dir, expands environment variables, merges each over its built-in
// default (user values win, per dario.cat/mergo's override semantics),
// and validates the result.
//
// Any failure here is deliberately fatal to the caller: per spec §4.C,
// "policy files fail-closed" — the caller (Engine.Reload) must treat a
// Load error as "deny everything" rather than falling back to a stale or
// partial document.
func Load(dir string) (*Documents, error) {
	constitution := builtinConstitution()
	if err := loadInto(filepath.Join(dir, "constitution.yaml"), constitution); err != nil {
		return nil, err
	}

	guardrails := builtinGuardrails()
	if err := loadInto(filepath.Join(dir, "guardrails.yaml"), guardrails); err != nil {
		return nil, err
	}

	whitelist := builtinWhitelist()
	if err := loadInto(filepath.Join(dir, "whitelist.yaml"), whitelist); err != nil {
		return nil, err
	}

	if err := validate.Struct(constitution); err != nil {
		return nil, &ValidationError{Document: "constitution", Err: err}
	}
	for _, t := range whitelist.PerActorTrust {
		if err := validate.Struct(t); err != nil {
			return nil, &ValidationError{Document: "whitelist", Field: "per_actor_trust", Err: err}
		}
	}

	return &Documents{
		Constitution: constitution,
		Guardrails:   guardrails,
		Whitelist:    whitelist,
		ReloadedAt:   time.Now(),
	}, nil
}

// loadInto reads path (if present — a missing file just keeps the
// built-in default), expands environment variables, and merges the
// parsed YAML over dst.
func loadInto(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("policy document not found, using built-in default", "path", path)
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}

	expanded := ExpandEnv(raw)

	var override any
	switch dst.(type) {
	case *Constitution:
		override = &Constitution{}
	case *Guardrails:
		override = &Guardrails{}
	case *Whitelist:
		override = &Whitelist{}
	default:
		return fmt.Errorf("policy: unsupported document type %T", dst)
	}

	if err := yaml.Unmarshal(expanded, override); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}

	if err := mergo.Merge(dst, override, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return fmt.Errorf("policy: merge %s: %w", path, err)
	}
	return nil
}
