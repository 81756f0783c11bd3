package config

import "time"

// defaultConfig returns the built-in configuration applied before the
// user's grace.yaml is merged on top (dario.cat/mergo, override semantics
// per loader.go's Initialize).
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8443",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Autonomy: AutonomyConfig{
			DefaultTier: 1, // TierSupervised
		},
		Sandbox: SandboxConfig{
			Backend:     "local",
			ExecTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			BootInterval:          15 * time.Second,
			BootThreshold:         0.7,
			SteadyIntervalMin:     180 * time.Second,
			SteadyIntervalMax:     300 * time.Second,
			SteadyThreshold:       0.3,
			MaxConcurrentMissions: 4,
			PhaseTimeout:          10 * time.Minute,
			PhaseMaxRetries:       2,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:  false,
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		Retention: RetentionConfig{
			AuditRetentionDays: 90,
			SnapshotInterval:   10 * time.Minute,
			CleanupInterval:    12 * time.Hour,
		},
		Audit: AuditConfig{
			Dir: "./data/audit",
		},
		Mesh: MeshConfig{
			DefaultQueueSize: 64,
			DefaultOverflow:  "drop_oldest",
		},
		Healer: HealerConfig{
			WatchPaths: []string{},
			Dedupe:     30 * time.Second,
		},
		Governance: GovernanceConfig{
			ApprovalExpiry: 30 * time.Minute,
		},
		Preflight: PreflightConfig{
			Artifacts: []PreflightArtifact{},
		},
	}
}
