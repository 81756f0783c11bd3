// Package policy loads and merges the three declarative documents the
// Governance Engine evaluates every mutating action against: the
// constitution, the guardrails, and the whitelist (spec §4.C, §6).
//
// Loading reads YAML from a directory, expands environment variables,
// merges built-in defaults with user overrides via dario.cat/mergo,
// validates with go-playground/validator, and hands back an immutable,
// ready-to-use Documents value.
package policy

import "time"

// AutonomyTier is the process-wide knob controlling how many action
// kinds may be auto-applied without human approval (spec §3, §9c).
type AutonomyTier int

const (
	TierManual         AutonomyTier = 0
	TierSupervised     AutonomyTier = 1
	TierSemiAutonomous AutonomyTier = 2
	TierAutonomous     AutonomyTier = 3
)

// AllowsAutoApply reports whether tier permits the auto_approve-list
// shortcut at all. Under manual mode (tier 0) that shortcut is closed; an
// action outside the requires_approval catalog whose confidence meets the
// manual tier's threshold is still auto-approved by Engine.Evaluate's
// final branch.
func (t AutonomyTier) AllowsAutoApply() bool {
	return t > TierManual
}

func (t AutonomyTier) String() string {
	switch t {
	case TierManual:
		return "manual"
	case TierSupervised:
		return "supervised"
	case TierSemiAutonomous:
		return "semi_autonomous"
	case TierAutonomous:
		return "autonomous"
	default:
		return "unknown"
	}
}

// ActionCatalog partitions action kinds by how the constitution treats
// them outright, independent of tier or confidence.
type ActionCatalog struct {
	NeverAllowed     []string `yaml:"never_allowed"`
	RequiresApproval []string `yaml:"requires_approval"`
	AutoApproved     []string `yaml:"auto_approved"`
}

// EscalationPolicy names the conditions that force human escalation
// regardless of disposition.
type EscalationPolicy struct {
	LowConfidence          bool `yaml:"low_confidence"`
	MultipleFailures       bool `yaml:"multiple_failures"`
	SecurityThreat         bool `yaml:"security_threat"`
	ConstitutionalViolation bool `yaml:"constitutional_violation"`
}

// TierDefinition describes one autonomy tier's auto-apply threshold. The
// threshold is the minimum confidence required for a non-whitelisted,
// non-denied action to auto-approve; higher tiers have lower thresholds
// (spec §4.C).
type TierDefinition struct {
	Tier               AutonomyTier `yaml:"tier" validate:"gte=0,lte=3"`
	Description        string       `yaml:"description"`
	AutoApplyThreshold float64      `yaml:"auto_apply_threshold" validate:"gte=0,lte=1"`
}

// Constitution is the declarative values/rights/action-catalog document.
type Constitution struct {
	Version          string           `yaml:"version" validate:"required"`
	CoreValues       []string         `yaml:"core_values"`
	FundamentalRights []string        `yaml:"fundamental_rights"`
	ActionCatalog    ActionCatalog    `yaml:"action_catalog"`
	Escalation       EscalationPolicy `yaml:"escalation_policy"`
	TierDefinitions  []TierDefinition `yaml:"tier_definitions" validate:"dive"`
}

// ThresholdForTier returns the auto-apply confidence threshold configured
// for tier. When several definitions name the same tier the last one wins,
// so an on-disk definition appended after the built-in one takes effect.
// A tier with no definition gets 1.0, which only a confidence of exactly 1
// meets.
func (c *Constitution) ThresholdForTier(tier AutonomyTier) float64 {
	for i := len(c.TierDefinitions) - 1; i >= 0; i-- {
		if c.TierDefinitions[i].Tier == tier {
			return c.TierDefinitions[i].AutoApplyThreshold
		}
	}
	return 1.0
}

// ResourceLimits bounds what a single mutating action may consume.
type ResourceLimits struct {
	MaxMemoryMB          int `yaml:"max_memory_mb"`
	MaxCPUSeconds        int `yaml:"max_cpu_seconds"`
	MaxFilesModifiedPerSession int `yaml:"max_files_modified_per_session"`
	MaxRatePerMinute     int `yaml:"max_rate_per_minute"`
}

// FilesystemRules names the directories an action may or may not touch.
type FilesystemRules struct {
	AllowedDirectories   []string `yaml:"allowed_directories"`
	ForbiddenDirectories []string `yaml:"forbidden_directories"`
}

// CodeGenerationRules bounds the shape of generated/patched code.
type CodeGenerationRules struct {
	MaxLinesPerFile  int      `yaml:"max_lines_per_file"`
	ForbiddenImports []string `yaml:"forbidden_imports"`
	ForbiddenPatterns []string `yaml:"forbidden_patterns"`
}

// DatabaseRules bounds what SQL an action may issue.
type DatabaseRules struct {
	ReadOnlyTables      []string `yaml:"read_only_tables"`
	ForbiddenStatements []string `yaml:"forbidden_statements"`
}

// Guardrails is the typed, composable checks document.
type Guardrails struct {
	Filesystem      FilesystemRules     `yaml:"filesystem"`
	CodeGeneration  CodeGenerationRules `yaml:"code_generation"`
	ResourceLimits  ResourceLimits      `yaml:"resource_limits"`
	Database        DatabaseRules       `yaml:"database"`
}

// PerActorTrust maps an actor id to a trust level in [0,1].
type PerActorTrust struct {
	Actor string  `yaml:"actor"`
	Trust float64 `yaml:"trust" validate:"gte=0,lte=1"`
}

// Whitelist is the per-tier action catalog plus actor trust document.
type Whitelist struct {
	PerTierActions     map[string][]string `yaml:"per_tier_actions"`
	PerActorTrust      []PerActorTrust     `yaml:"per_actor_trust"`
	ApprovedFileGlobs  []string            `yaml:"approved_file_globs"`
	AutoApproveActions []string            `yaml:"auto_approve_actions"`
}

// AllowsForTier reports whether actionKind is in tier's catalog.
func (w *Whitelist) AllowsForTier(tier AutonomyTier, actionKind string) bool {
	kinds, ok := w.PerTierActions[tier.String()]
	if !ok {
		return false
	}
	for _, k := range kinds {
		if k == actionKind {
			return true
		}
	}
	return false
}

// TrustFor returns the configured trust level for actor, defaulting to 0.5
// (neutral) when unconfigured.
func (w *Whitelist) TrustFor(actor string) float64 {
	for _, t := range w.PerActorTrust {
		if t.Actor == actor {
			return t.Trust
		}
	}
	return 0.5
}

// Documents is the merged, validated, ready-to-use policy bundle handed to
// the Governance Engine. ReloadedAt lets callers observe hot-reload
// freshness.
type Documents struct {
	Constitution *Constitution
	Guardrails   *Guardrails
	Whitelist    *Whitelist
	ReloadedAt   time.Time
}
