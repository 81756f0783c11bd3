package policy

// builtinConstitution is the fail-safe default shipped with the binary.
// It is merged under (never over) any on-disk document, so user YAML can
// override any field while an absent or partial file still yields a
// usable, safe configuration.
func builtinConstitution() *Constitution {
	return &Constitution{
		Version:    "builtin-1",
		CoreValues: []string{"do_no_harm", "operator_oversight", "least_privilege"},
		ActionCatalog: ActionCatalog{
			NeverAllowed: []string{
				"read_credentials",
				"modify_iam_policy",
				"delete_audit_log",
			},
		},
		Escalation: EscalationPolicy{
			LowConfidence:           true,
			MultipleFailures:        true,
			SecurityThreat:          true,
			ConstitutionalViolation: true,
		},
		TierDefinitions: []TierDefinition{
			{Tier: TierManual, Description: "no auto-apply", AutoApplyThreshold: 1.0},
			{Tier: TierSupervised, Description: "narrow auto-apply", AutoApplyThreshold: 0.95},
			{Tier: TierSemiAutonomous, Description: "moderate auto-apply", AutoApplyThreshold: 0.8},
			{Tier: TierAutonomous, Description: "broad auto-apply", AutoApplyThreshold: 0.6},
		},
	}
}

func builtinGuardrails() *Guardrails {
	return &Guardrails{
		Filesystem: FilesystemRules{
			ForbiddenDirectories: []string{"/etc", "/root/.ssh", "/var/run/secrets"},
		},
		CodeGeneration: CodeGenerationRules{
			MaxLinesPerFile: 2000,
			ForbiddenPatterns: []string{
				`(?i)rm\s+-rf\s+/`,
				`(?i)os\.Setenv\(\s*"AWS_SECRET`,
			},
		},
		ResourceLimits: ResourceLimits{
			MaxMemoryMB:                512,
			MaxCPUSeconds:              30,
			MaxFilesModifiedPerSession: 10,
			MaxRatePerMinute:           30,
		},
		Database: DatabaseRules{
			ForbiddenStatements: []string{"DROP", "TRUNCATE", "DELETE"},
		},
	}
}

func builtinWhitelist() *Whitelist {
	return &Whitelist{
		PerTierActions: map[string][]string{
			TierManual.String():         {},
			TierSupervised.String():     {"apply_code_patch"},
			TierSemiAutonomous.String(): {"apply_code_patch", "restart_component"},
			TierAutonomous.String():     {"apply_code_patch", "restart_component", "revert_code_patch"},
		},
		AutoApproveActions: []string{"revert_code_patch"},
	}
}
