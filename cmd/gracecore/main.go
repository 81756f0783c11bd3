// Grace Core orchestrator process - boots the audit log, Trigger Mesh,
// Governance Engine, Resilient Supervisor, Log Healer, Fix Proposer,
// Sandbox Executor, Learning Store, Domain Kernel Gateway, Scheduler,
// and the REST/WebSocket API surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/grace-core/pkg/api"
	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/config"
	"github.com/codeready-toolchain/grace-core/pkg/diagnostics"
	"github.com/codeready-toolchain/grace-core/pkg/events"
	"github.com/codeready-toolchain/grace-core/pkg/governance"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
	"github.com/codeready-toolchain/grace-core/pkg/healer"
	"github.com/codeready-toolchain/grace-core/pkg/kernel"
	"github.com/codeready-toolchain/grace-core/pkg/learning"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
	"github.com/codeready-toolchain/grace-core/pkg/preflight"
	"github.com/codeready-toolchain/grace-core/pkg/proposer"
	"github.com/codeready-toolchain/grace-core/pkg/retention"
	"github.com/codeready-toolchain/grace-core/pkg/sandbox"
	"github.com/codeready-toolchain/grace-core/pkg/scheduler"
	"github.com/codeready-toolchain/grace-core/pkg/storage"
	"github.com/codeready-toolchain/grace-core/pkg/supervisor"
)

// runtimeManifest lists the import names the Preflight Validator treats
// as known-good (spec §4.D, "does the artifact only import names a
// manifest recognizes"). Grown as the process's own dependency surface
// grows.
var runtimeManifest = []string{
	"context", "fmt", "time", "os", "log/slog", "encoding/json",
	"github.com/codeready-toolchain/grace-core/pkg/audit",
	"github.com/codeready-toolchain/grace-core/pkg/mesh",
	"github.com/codeready-toolchain/grace-core/pkg/governance",
	"github.com/codeready-toolchain/grace-core/pkg/scheduler",
	"github.com/codeready-toolchain/grace-core/pkg/kernel",
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to grace.yaml's directory")
	policyDir := flag.String("policy-dir", getEnv("POLICY_DIR", "./deploy/policy"), "path to constitution/guardrails/whitelist.yaml")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	var diag *diagnostics.Service
	if cfg.Diagnostics.Enabled {
		diag = diagnostics.NewService(diagnostics.ServiceConfig{
			Token:   os.Getenv(cfg.Diagnostics.TokenEnv),
			Channel: cfg.Diagnostics.Channel,
		})
	}

	auditStore, err := audit.Open(cfg.Audit.Dir, logger)
	if err != nil {
		log.Fatalf("failed to open audit log: %v", err)
	}
	defer auditStore.Close()
	if auditStore.Halted() {
		// Open's replay found a broken hash chain and refused to continue
		// (spec §7/scenario §8.6: "the process emits a fatal diagnostic and
		// refuses further appends"). There is nothing safe to do but notify
		// and exit; an operator must repair or truncate the log by hand.
		diag.NotifyFatal(ctx, diagnostics.FatalEvent{
			Kind:    "ChainBroken",
			Message: fmt.Sprintf("audit log at %s failed chain verification on replay", cfg.Audit.Dir),
		})
		log.Fatalf("audit log chain broken, refusing to start until operator intervention")
	}

	trigMesh := mesh.New(auditStore, logger)

	docs, docsErr := policy.Load(*policyDir)
	if docsErr != nil {
		logger.Error("policy documents failed to load, governance engine starts fail-closed", "error", docsErr)
	}
	gov := governance.New(auditStore, docs, policy.AutonomyTier(cfg.Autonomy.DefaultTier), logger)
	gov.SetApprovalExpiry(cfg.Governance.ApprovalExpiry)

	learningStore := learning.New()

	var sandboxExecutor sandbox.Executor
	switch cfg.Sandbox.Backend {
	case "docker":
		sandboxExecutor = sandbox.NewDockerExecutor(cfg.Sandbox.DockerImage)
	default:
		sandboxExecutor = sandbox.NewLocalExecutor()
	}

	fixProposer := proposer.New(proposer.Config{
		Learning:  learningStore,
		Governor:  gov,
		Publisher: trigMesh,
		Executor:  sandboxExecutor,
		Log:       logger,
	})

	dedupe := cfg.Healer.Dedupe
	if dedupe <= 0 {
		dedupe = 30 * time.Second
	}
	logHealer, err := healer.New(trigMesh, dedupe, logger)
	if err != nil {
		log.Fatalf("failed to start log healer: %v", err)
	}
	defer logHealer.Close()
	for _, p := range cfg.Healer.WatchPaths {
		if err := logHealer.Watch(p); err != nil {
			logger.Warn("log healer: failed to watch path", "path", p, "error", err)
		}
	}
	if len(cfg.Healer.WatchPaths) > 0 {
		go func() {
			if err := logHealer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("log healer stopped", "error", err)
			}
		}()
	}
	trigMesh.Subscribe(ctx, audit.EventErrorDetected, fixProposer.HandleErrorDetected, mesh.SubscribeOptions{})

	preflightValidator := preflight.New(runtimeManifest, guardrailsOf(docs), auditStore, logger)

	// Run the Preflight Validator once over the configured artifact set
	// before anything else starts (spec §4.D: "runs once at process
	// start... unless the artifact is declared critical, in which case
	// startup fails").
	configuredArtifacts := make([]preflight.Artifact, 0, len(cfg.Preflight.Artifacts))
	for _, a := range cfg.Preflight.Artifacts {
		configuredArtifacts = append(configuredArtifacts, preflight.Artifact{
			Path: a.Path, Language: a.Language, Critical: a.Critical,
		})
	}
	if _, err := preflightValidator.Run(ctx, configuredArtifacts); err != nil {
		var critFailure *preflight.ErrCriticalArtifactFailed
		if errors.As(err, &critFailure) {
			diag.NotifyFatal(ctx, diagnostics.FatalEvent{
				Kind:    "PreflightFailure",
				Message: err.Error(),
			})
		}
		log.Fatalf("preflight validation failed: %v", err)
	}

	sup := supervisor.New(auditStore, gov, logger)
	components := []supervisor.Component{
		{Name: "audit_log", Critical: true, Start: func(context.Context) error { return nil }},
		{Name: "trigger_mesh", Critical: true, Start: func(context.Context) error { return nil }},
		{Name: "governance_engine", Critical: true, Start: func(context.Context) error { return nil }},
	}
	if err := sup.Start(ctx, components); err != nil {
		diag.NotifyFatal(ctx, diagnostics.FatalEvent{Kind: "ComponentStartupFailure", Message: err.Error()})
		log.Fatalf("supervisor: critical component failed to start: %v", err)
	}

	gateway := kernel.NewGateway(auditStore, logger)
	gateway.Register(kernel.BuildCore(auditStore))
	gateway.Register(kernel.BuildMemory(learningStore))
	gateway.Register(kernel.BuildIntelligence(learningStore))
	gateway.Register(kernel.BuildCode(fixProposer, sandboxExecutor))
	gateway.Register(kernel.BuildGovernance(gov))
	gateway.Register(kernel.BuildVerification(auditStore, preflightValidator))
	gateway.Register(kernel.BuildInfrastructure(componentNames(components)))
	gateway.Register(kernel.BuildFederation(gateway))

	cadence := scheduler.DefaultCadence
	if cfg.Scheduler.BootInterval > 0 {
		cadence.BootInterval = cfg.Scheduler.BootInterval
	}
	if cfg.Scheduler.BootThreshold > 0 {
		cadence.BootThreshold = cfg.Scheduler.BootThreshold
	}
	if cfg.Scheduler.SteadyIntervalMin > 0 {
		cadence.SteadyIntervalMin = cfg.Scheduler.SteadyIntervalMin
	}
	if cfg.Scheduler.SteadyIntervalMax > 0 {
		cadence.SteadyIntervalMax = cfg.Scheduler.SteadyIntervalMax
	}
	if cfg.Scheduler.SteadyThreshold > 0 {
		cadence.SteadyThreshold = cfg.Scheduler.SteadyThreshold
	}
	if cfg.Scheduler.MaxConcurrentMissions > 0 {
		cadence.MaxConcurrentMissions = cfg.Scheduler.MaxConcurrentMissions
	}
	phaseTimeout := cfg.Scheduler.PhaseTimeout
	if phaseTimeout <= 0 {
		phaseTimeout = 10 * time.Minute
	}
	sched := scheduler.New(auditStore, auditStore, newMissionRunner(gateway, phaseTimeout, cfg.Scheduler.PhaseMaxRetries), cadence, logger)
	sched.SetApprovalExpirer(gov)

	// The critical components the Resilient Supervisor just started
	// successfully are the boot-readiness predicate for the cadence
	// controller; drop to the steady, jittered, lower-threshold cadence
	// now that they're up (spec §4.L).
	sched.MarkBootComplete()

	var store *storage.Store
	if dbCfg, dbErr := storage.LoadConfigFromEnv(); dbErr == nil {
		if s, openErr := storage.Open(ctx, dbCfg); openErr == nil {
			store = s
			defer store.Close()
			if snap, loadErr := store.LoadLearningSnapshot(ctx); loadErr == nil {
				learningStore.Restore(snap)
			}
		} else {
			logger.Warn("storage journal unavailable, running without durable checkpoint", "error", openErr)
		}
	} else {
		logger.Warn("storage config unavailable, running without durable checkpoint", "error", dbErr)
	}

	var retentionSvc *retention.Service
	if store != nil {
		retentionSvc = retention.NewService(cfg.Retention, store, learningStore, logger)
		retentionSvc.Start(ctx)
		defer retentionSvc.Stop()
	}

	connManager := events.NewConnectionManager(trigMesh, auditStore, 10*time.Second, logger)

	apiServer := api.NewServer(&cfg.Server, auditStore, gov, sched.Queue(), connManager)

	go func() {
		logger.Info("scheduler starting", "boot_interval", cadence.BootInterval)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	}()
	defer sched.Stop()

	go func() {
		logger.Info("api server listening", "addr", cfg.Server.Addr)
		if err := apiServer.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", "error", err)
	}
}

func componentNames(cs []supervisor.Component) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}

func guardrailsOf(docs *policy.Documents) *policy.Guardrails {
	if docs == nil {
		return &policy.Guardrails{}
	}
	return docs.Guardrails
}
