package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// StepResult is what one Capability produces.
type StepResult struct {
	Answer     string
	Data       map[string]any
	DataSource string
	CacheHit   bool
	Provenance *DataProvenance
	// CallsKernel is set when this capability's step is itself a
	// declared cross-kernel call, so the Plan step that invoked it is
	// traceable (spec §4.J: "cross-kernel calls are allowed but must be
	// declared in the plan for traceability").
	CallsKernel Name
}

// Capability is one named operation in a kernel's closed command
// vocabulary (spec §4.J, Parse: "a closed enum of capabilities").
type Capability struct {
	Name string
	Run  func(ctx context.Context, req Request) (StepResult, error)
}

// GovernanceEvaluator describes a governance surface for a kernel's
// mutating capabilities. Nothing in this package takes or calls one;
// BuildGovernance works with *governance.Engine directly.
type GovernanceEvaluator interface {
	Evaluate(ctx context.Context, actionKind, resource string, confidence float64) (compliant bool, err error)
}

// Orchestrator runs the Parse/Plan/Execute/Aggregate/Attach pipeline for
// one kernel over a fixed, named set of Capabilities (spec §4.J).
type Orchestrator struct {
	Name              Name
	Capabilities      map[string]Capability
	DefaultCapability string
	// TraceThreshold: spans at or above this duration are also emitted
	// as audit events by the caller (spec §4.K); Orchestrator itself
	// only measures, the Gateway decides whether to publish.
	TraceThreshold time.Duration
	tracer         oteltrace.Tracer
}

// NewOrchestrator builds an Orchestrator for name with the given
// capability set. defaultCap is used when Parse cannot match the
// request's intent text to a known capability name. Each capability
// run is wrapped in its own OTel span under the "gracecore/kernel"
// instrumentation scope, named "<kernel>.<capability>", so a span
// exporter attached to the global TracerProvider sees every kernel
// invocation even when no execution_trace audit event is warranted.
func NewOrchestrator(name Name, caps []Capability, defaultCap string) *Orchestrator {
	m := make(map[string]Capability, len(caps))
	for _, c := range caps {
		m[c.Name] = c
	}
	return &Orchestrator{
		Name:              name,
		Capabilities:      m,
		DefaultCapability: defaultCap,
		TraceThreshold:    2 * time.Second,
		tracer:            otel.Tracer("gracecore/kernel"),
	}
}

// parse reduces req.Intent to one of this orchestrator's registered
// capability names (spec §4.J step 1).
func (o *Orchestrator) parse(req Request) (Capability, error) {
	lower := strings.ToLower(req.Intent)
	for name, cap := range o.Capabilities {
		if strings.Contains(lower, name) {
			return cap, nil
		}
	}
	if cap, ok := o.Capabilities[o.DefaultCapability]; ok {
		return cap, nil
	}
	return Capability{}, fmt.Errorf("kernel %s: no capability matches intent %q", o.Name, req.Intent)
}

// Invoke runs Parse -> Plan -> Execute -> Aggregate -> Attach for req
// (spec §4.J). Plan, for a single-orchestrator single-capability request,
// collapses to the one matched capability; orchestrators that need a
// multi-step plan build one inside their own capability Run functions.
// The Trace holds a single Step per Invoke, and StepResult.CallsKernel
// can name one further kernel for KernelsConsulted.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (Response, error) {
	requestID := uuid.NewString()
	start := time.Now()

	cap, err := o.parse(req)
	if err != nil {
		return Response{}, err
	}

	spanCtx, span := o.tracer.Start(ctx, string(o.Name)+"."+cap.Name,
		oteltrace.WithAttributes(attribute.String("kernel.request_id", requestID)))
	stepStart := time.Now()
	result, runErr := cap.Run(spanCtx, req)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	step := Step{
		Component:  string(o.Name),
		Action:     cap.Name,
		Duration:   time.Since(stepStart),
		DataSource: result.DataSource,
		CacheHit:   result.CacheHit,
	}
	if runErr != nil {
		step.Error = runErr.Error()
	}

	resp := Response{
		Answer:           result.Answer,
		Data:             result.Data,
		KernelsConsulted: []Name{o.Name},
	}
	if result.Provenance != nil {
		resp.DataProvenance = append(resp.DataProvenance, *result.Provenance)
		resp.TrustScore = result.Provenance.Confidence
	}
	if result.CallsKernel != "" {
		resp.KernelsConsulted = append(resp.KernelsConsulted, result.CallsKernel)
	}

	resp.ExecutionTrace = Trace{
		RequestID:       requestID,
		TotalDuration:   time.Since(start),
		Steps:           []Step{step},
		DataSourcesUsed: nonEmpty(result.DataSource),
		AgentsInvolved:  []string{string(o.Name)},
	}
	if result.CacheHit {
		resp.ExecutionTrace.CacheHits = 1
	}
	return resp, runErr
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
