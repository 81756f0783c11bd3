package config

import "time"

// ServerConfig holds the REST/WebSocket API's listen settings (spec §6).
type ServerConfig struct {
	Addr             string   `yaml:"addr" validate:"required"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// AutonomyConfig seeds the Governance Engine's process-wide tier (spec §3).
// The running value is owned by the engine once started; this is only the
// boot-time default, itself changeable only as a governed action.
type AutonomyConfig struct {
	DefaultTier int `yaml:"default_tier" validate:"gte=0,lte=3"`
}

// GovernanceConfig tunes the approval queue (spec §4.C).
type GovernanceConfig struct {
	// ApprovalExpiry is how long a pending approval sits before the
	// periodic expiry task (driven by the Scheduler's triage cadence)
	// transitions it to expired.
	ApprovalExpiry time.Duration `yaml:"approval_expiry,omitempty"`
}

// SandboxConfig selects and tunes the Sandbox Executor backend (spec §4.H).
type SandboxConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=local docker"` // "local" or "docker"
	DockerImage  string        `yaml:"docker_image,omitempty"`
	ExecTimeout  time.Duration `yaml:"exec_timeout"`
}

// SchedulerConfig overrides the Scheduler's cadence (spec §4.L); zero
// values fall back to scheduler.DefaultCadence.
type SchedulerConfig struct {
	BootInterval          time.Duration `yaml:"boot_interval,omitempty"`
	BootThreshold         float64       `yaml:"boot_threshold,omitempty"`
	SteadyIntervalMin     time.Duration `yaml:"steady_interval_min,omitempty"`
	SteadyIntervalMax     time.Duration `yaml:"steady_interval_max,omitempty"`
	SteadyThreshold       float64       `yaml:"steady_threshold,omitempty"`
	MaxConcurrentMissions int           `yaml:"max_concurrent_missions,omitempty" validate:"omitempty,min=1"`

	// PhaseTimeout bounds each Mission phase's Domain Kernel Gateway
	// invocation; exceeding it without exhausting PhaseMaxRetries triggers
	// a retry, and without retries left transitions the mission to failed
	// (spec §4.L).
	PhaseTimeout time.Duration `yaml:"phase_timeout,omitempty"`
	// PhaseMaxRetries is K, the number of auto-recovery retries a timed-out
	// or failed phase gets before the mission is failed outright.
	PhaseMaxRetries int `yaml:"phase_max_retries,omitempty" validate:"omitempty,min=0"`
}

// DiagnosticsConfig configures the fatal-event Slack notifier (spec §7).
type DiagnosticsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// RetentionConfig controls audit segment and learning snapshot retention.
type RetentionConfig struct {
	AuditRetentionDays int           `yaml:"audit_retention_days"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
}

// AuditConfig points at the hash-chained audit log's storage directory.
type AuditConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// MeshConfig tunes default Trigger Mesh subscriber backpressure.
type MeshConfig struct {
	DefaultQueueSize int    `yaml:"default_queue_size,omitempty" validate:"omitempty,min=1"`
	DefaultOverflow  string `yaml:"default_overflow,omitempty"` // drop_oldest, drop_newest, block_publisher, spill_to_audit_log
}

// HealerConfig lists the log files the Log Healer watches for error
// records (spec §4.F) and the window it dedupes repeated records within.
type HealerConfig struct {
	WatchPaths []string      `yaml:"watch_paths,omitempty"`
	Dedupe     time.Duration `yaml:"dedupe,omitempty"`
}

// PreflightArtifact names one source file the boot-time Preflight
// Validator run checks (spec §4.D).
type PreflightArtifact struct {
	Path     string `yaml:"path" validate:"required"`
	Language string `yaml:"language,omitempty"`
	Critical bool   `yaml:"critical,omitempty"`
}

// PreflightConfig lists the artifact set the process validates once at
// startup, before the Resilient Supervisor starts any component.
type PreflightConfig struct {
	Artifacts []PreflightArtifact `yaml:"artifacts,omitempty"`
}

// YAMLConfig is the on-disk shape of grace.yaml, the process-wide
// configuration file.
type YAMLConfig struct {
	Server      *ServerConfig      `yaml:"server"`
	Autonomy    *AutonomyConfig    `yaml:"autonomy"`
	Sandbox     *SandboxConfig     `yaml:"sandbox"`
	Scheduler   *SchedulerConfig   `yaml:"scheduler"`
	Diagnostics *DiagnosticsConfig `yaml:"diagnostics"`
	Retention   *RetentionConfig   `yaml:"retention"`
	Audit       *AuditConfig       `yaml:"audit"`
	Mesh        *MeshConfig        `yaml:"mesh"`
	Healer      *HealerConfig      `yaml:"healer"`
	Governance  *GovernanceConfig  `yaml:"governance"`
	Preflight   *PreflightConfig   `yaml:"preflight"`
}

// Config is the fully resolved, validated, ready-to-use configuration
// returned by Initialize.
type Config struct {
	Server      ServerConfig
	Autonomy    AutonomyConfig
	Sandbox     SandboxConfig
	Scheduler   SchedulerConfig
	Diagnostics DiagnosticsConfig
	Retention   RetentionConfig
	Audit       AuditConfig
	Mesh        MeshConfig
	Healer      HealerConfig
	Governance  GovernanceConfig
	Preflight   PreflightConfig
}
