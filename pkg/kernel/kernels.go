package kernel

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/preflight"
	"github.com/codeready-toolchain/grace-core/pkg/proposer"
	"github.com/codeready-toolchain/grace-core/pkg/recipes"
	"github.com/codeready-toolchain/grace-core/pkg/sandbox"
)

// BuildCore wires the "core" kernel's one capability: a high-level
// system-state summary read straight off the audit log's head, the
// cheapest possible "what is the state of the world" answer every other
// kernel's planning can fall back to.
func BuildCore(store *audit.Store) *Orchestrator {
	return NewOrchestrator(Core, []Capability{
		{
			Name: "summarize_state",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				seq, hash := store.Head()
				return StepResult{
					Answer:     fmt.Sprintf("audit log is at sequence %d", seq),
					Data:       map[string]any{"sequence": seq, "head_hash": hash},
					DataSource: "audit_log",
				}, nil
			},
		},
	}, "summarize_state")
}

// BuildMemory wires the "memory" kernel to raw ErrorPattern recall.
func BuildMemory(store *learning.Store) *Orchestrator {
	return NewOrchestrator(Memory, []Capability{
		{
			Name: "recall_pattern",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				sig, _ := req.Context["signature"].(string)
				p, ok := store.Pattern(sig)
				if !ok {
					return StepResult{Answer: "no pattern on record", DataSource: "learning_store"}, nil
				}
				return StepResult{
					Answer:     fmt.Sprintf("pattern %s seen %d times", p.Signature, p.Occurrences),
					Data:       map[string]any{"occurrences": p.Occurrences, "classification": string(p.Classification)},
					DataSource: "learning_store",
					Provenance: &DataProvenance{SourceType: "learning_store", SourceID: sig, Confidence: 1, Verified: true},
				}, nil
			},
		},
	}, "recall_pattern")
}

// BuildIntelligence wires the "intelligence" kernel to ranked fix
// strategy recommendations and domain reliability predictions — the
// derived-judgment counterpart to memory's raw recall.
func BuildIntelligence(store *learning.Store) *Orchestrator {
	return NewOrchestrator(Intelligence, []Capability{
		{
			Name: "rank_strategies",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				sig, _ := req.Context["signature"].(string)
				top := store.TopStrategies(sig, 3)
				kinds := make([]string, 0, len(top))
				for _, s := range top {
					kinds = append(kinds, s.StrategyKind)
				}
				return StepResult{
					Answer:     fmt.Sprintf("%d candidate strategies ranked", len(top)),
					Data:       map[string]any{"strategies": kinds},
					DataSource: "learning_store",
				}, nil
			},
		},
		{
			Name: "predict_reliability",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				domain, _ := req.Context["domain"].(string)
				reliability := store.PredictReliability(domain)
				return StepResult{
					Answer:     fmt.Sprintf("predicted reliability %.2f for domain %s", reliability, domain),
					Data:       map[string]any{"reliability": reliability},
					DataSource: "learning_store",
					Provenance: &DataProvenance{SourceType: "learning_store", SourceID: domain, Confidence: reliability, Verified: false},
				}, nil
			},
		},
	}, "predict_reliability")
}

// BuildCode wires the "code" kernel to the Fix Proposer and Sandbox
// Executor so a kernel-level plan can request a patch or a bare
// verification run.
func BuildCode(prop *proposer.Proposer, exec sandbox.Executor) *Orchestrator {
	return NewOrchestrator(Code, []Capability{
		{
			Name: "propose_patch",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				resource, _ := req.Context["resource"].(string)
				class, _ := req.Context["classification"].(string)
				corr, _ := req.Context["correlation_id"].(string)
				decision, err := prop.Propose(ctx, resource, recipes.Classification(class), corr)
				if err != nil {
					return StepResult{}, err
				}
				return StepResult{
					Answer:     fmt.Sprintf("patch proposal disposition: %s", decision.Disposition),
					Data:       map[string]any{"disposition": string(decision.Disposition), "approval_id": decision.ApprovalID},
					DataSource: "fix_proposer",
				}, nil
			},
		},
		{
			Name: "run_sandbox",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				workDir, _ := req.Context["work_dir"].(string)
				cmd, _ := req.Context["command"].([]string)
				if exec == nil {
					return StepResult{}, fmt.Errorf("kernel code: no sandbox executor configured")
				}
				result, err := exec.Run(ctx, sandbox.Artifact{WorkDir: workDir, Command: cmd}, sandbox.DefaultLimits, sandbox.ExitZero)
				if err != nil {
					return StepResult{}, err
				}
				return StepResult{
					Answer:     fmt.Sprintf("sandbox run passed=%v exit=%d", result.Passed, result.ExitStatus),
					Data:       map[string]any{"passed": result.Passed, "exit_status": result.ExitStatus},
					DataSource: "sandbox",
				}, nil
			},
		},
	}, "propose_patch")
}

// BuildGovernance wires the "governance" kernel to the Governance
// Engine, so any kernel's plan can submit a mutating step for
// evaluation before it runs (spec §4.J: "any mutating step in a plan
// goes through C with confidence supplied by the kernel").
func BuildGovernance(engine *governance.Engine) *Orchestrator {
	return NewOrchestrator(Governance, []Capability{
		{
			Name: "evaluate_action",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				kind, _ := req.Context["action_kind"].(string)
				resource, _ := req.Context["resource"].(string)
				confidence, _ := req.Context["confidence"].(float64)
				decision, err := engine.Evaluate(ctx, governance.ActionRequest{
					Actor:      "kernel:governance",
					ActionKind: kind,
					Resource:   resource,
					Confidence: confidence,
				})
				if err != nil {
					return StepResult{}, err
				}
				return StepResult{
					Answer:     fmt.Sprintf("disposition: %s", decision.Disposition),
					Data:       map[string]any{"disposition": string(decision.Disposition), "compliant": decision.Compliant},
					DataSource: "governance_engine",
				}, nil
			},
		},
		{
			Name: "list_approvals",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				approvals := engine.Store().List()
				return StepResult{
					Answer:     fmt.Sprintf("%d approvals on record", len(approvals)),
					Data:       map[string]any{"count": len(approvals)},
					DataSource: "approval_store",
				}, nil
			},
		},
	}, "evaluate_action")
}

// BuildVerification wires the "verification" kernel to the audit log's
// own chain verification and the Preflight Validator.
func BuildVerification(store *audit.Store, validator *preflight.Validator) *Orchestrator {
	return NewOrchestrator(Verification, []Capability{
		{
			Name: "verify_chain",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				if seq, _ := store.Head(); seq == 0 {
					return StepResult{Answer: "chain empty", Data: map[string]any{"ok": true}, DataSource: "audit_log"}, nil
				}
				brk, err := store.VerifyChain(audit.Range{From: 1})
				if err != nil {
					return StepResult{}, err
				}
				if brk != nil {
					return StepResult{
						Answer:     fmt.Sprintf("chain broken at sequence %d", brk.Sequence),
						Data:       map[string]any{"ok": false, "break_sequence": brk.Sequence},
						DataSource: "audit_log",
					}, nil
				}
				return StepResult{Answer: "chain intact", Data: map[string]any{"ok": true}, DataSource: "audit_log"}, nil
			},
		},
		{
			Name: "run_preflight",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				path, _ := req.Context["path"].(string)
				lang, _ := req.Context["language"].(string)
				critical, _ := req.Context["critical"].(bool)
				reports, err := validator.Run(ctx, []preflight.Artifact{{Path: path, Language: lang, Critical: critical}})
				if err != nil {
					return StepResult{Answer: "preflight failed", DataSource: "preflight"}, err
				}
				return StepResult{
					Answer:     fmt.Sprintf("%d preflight checks run", len(reports)),
					Data:       map[string]any{"reports": len(reports)},
					DataSource: "preflight",
				}, nil
			},
		},
	}, "verify_chain")
}

// BuildInfrastructure wires the "infrastructure" kernel to component
// health: it reports the supervisor's configured component set without
// re-running Start (Start is a boot-time operation the composition root
// drives directly, not something a kernel request should trigger
// ad hoc).
func BuildInfrastructure(componentNames []string) *Orchestrator {
	return NewOrchestrator(Infrastructure, []Capability{
		{
			Name: "component_health",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				return StepResult{
					Answer:     fmt.Sprintf("%d components under supervision", len(componentNames)),
					Data:       map[string]any{"components": componentNames},
					DataSource: "supervisor",
				}, nil
			},
		},
	}, "component_health")
}

// BuildFederation wires the "federation" kernel to the Gateway itself,
// so a plan can declare and execute a cross-kernel delegation as one
// traceable step (spec §4.J: "cross-kernel calls are allowed but must
// be declared in the plan for traceability").
func BuildFederation(gw *Gateway) *Orchestrator {
	return NewOrchestrator(Federation, []Capability{
		{
			Name: "delegate",
			Run: func(ctx context.Context, req Request) (StepResult, error) {
				target, _ := req.Context["target_kernel"].(string)
				delegated, err := gw.Invoke(ctx, Name(target), Request{
					Intent:  req.Intent,
					Context: req.Context,
				})
				if err != nil {
					return StepResult{}, err
				}
				return StepResult{
					Answer:      delegated.Answer,
					Data:        delegated.Data,
					DataSource:  "federation",
					CallsKernel: Name(target),
				}, nil
			},
		},
	}, "delegate")
}
