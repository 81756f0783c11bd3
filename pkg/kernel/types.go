// Package kernel implements the Domain Kernel Gateway (spec §4.J): eight
// intent-routed orchestrators, each exposing one `Invoke(KernelRequest) →
// KernelResponse` operation following the same Parse/Plan/Execute/
// Aggregate/Attach pipeline, fronted by a Gateway that dispatches by
// kernel name.
package kernel

import "time"

// Name identifies one of the eight fixed orchestrators (spec §4.J).
type Name string

const (
	Core           Name = "core"
	Memory         Name = "memory"
	Code           Name = "code"
	Governance     Name = "governance"
	Verification   Name = "verification"
	Intelligence   Name = "intelligence"
	Infrastructure Name = "infrastructure"
	Federation     Name = "federation"
)

// AllKernels lists the eight fixed orchestrator names, in the order
// spec §4.J names them.
var AllKernels = []Name{Core, Memory, Code, Governance, Verification, Intelligence, Infrastructure, Federation}

// Request is what a caller submits to a kernel (spec §3, KernelRequest).
type Request struct {
	Intent     string
	Context    map[string]any
	KernelName Name
}

// DataProvenance records where one fact in a Response came from (spec §3).
type DataProvenance struct {
	SourceType string
	SourceID   string
	Confidence float64
	Verified   bool
}

// Step is one entry in an ExecutionTrace (spec §4.K).
type Step struct {
	Component  string
	Action     string
	Duration   time.Duration
	DataSource string
	CacheHit   bool
	Error      string
}

// Trace is attached to every KernelResponse and every multi-step
// operation (spec §4.K).
type Trace struct {
	RequestID         string
	TotalDuration     time.Duration
	Steps             []Step
	DataSourcesUsed   []string
	AgentsInvolved    []string
	DatabaseQueries   int
	CacheHits         int
	GovernanceChecks  int
}

// Response is what a kernel returns (spec §3, KernelResponse).
type Response struct {
	Answer           string
	Data             map[string]any
	ExecutionTrace   Trace
	DataProvenance   []DataProvenance
	TrustScore       float64
	KernelsConsulted []Name
	APIsCalled       []string
}
