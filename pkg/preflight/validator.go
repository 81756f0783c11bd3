// Package preflight runs the one-time (and on-demand) static checks the
// Resilient Supervisor requires before it starts any component: can each
// declared artifact be parsed, does it only import names a manifest
// recognizes, does it avoid forbidden patterns, and does it avoid leaking
// hardcoded secrets (spec §4.D).
package preflight

import (
	"bufio"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// Artifact is one code file the Preflight Validator checks before startup.
type Artifact struct {
	Path     string
	Language string // "go" gets a real parse; anything else gets the UTF-8/forbidden-pattern checks only
	Critical bool
}

// CheckResult is one named check's outcome against one Artifact.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the full set of check results for one Artifact.
type Report struct {
	Artifact Artifact
	Checks   []CheckResult
	Passed   bool
}

// ErrCriticalArtifactFailed is returned by Run when a critical artifact
// fails any check; startup must abort (spec §4.D).
type ErrCriticalArtifactFailed struct {
	Artifact Artifact
	Reports  []Report
}

func (e *ErrCriticalArtifactFailed) Error() string {
	return fmt.Sprintf("preflight: critical artifact %q failed validation", e.Artifact.Path)
}

// AuditAppender is the subset of the audit Store the validator needs to
// record non-blocking warnings.
type AuditAppender interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// secretMarkerPatterns are the default hardcoded-secret regexes, compiled
// once into a built-in pattern table.
var secretMarkerPatterns = []string{
	`(?i)aws_secret_access_key\s*=\s*['"][^'"]+['"]`,
	`(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`,
	`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
	`(?i)password\s*[:=]\s*['"][^'"]{4,}['"]`,
}

// Validator runs the four checks in spec §4.D against a configured set of
// artifacts, reusing the Governance Engine's own Guardrails document as
// the shared source of forbidden patterns and forbidden imports.
type Validator struct {
	log       *slog.Logger
	auditor   AuditAppender
	manifest  map[string]struct{}
	guardrail *policy.Guardrails
	secretRe  []*regexp.Regexp
}

// New constructs a Validator. manifest lists every module/import name the
// runtime actually provides; guardrails supplies the forbidden-pattern and
// forbidden-import rule source shared with the Governance Engine.
func New(manifest []string, guardrails *policy.Guardrails, auditor AuditAppender, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]struct{}, len(manifest))
	for _, name := range manifest {
		m[name] = struct{}{}
	}
	v := &Validator{log: log, auditor: auditor, manifest: m, guardrail: guardrails}
	for _, p := range secretMarkerPatterns {
		if re, err := regexp.Compile(p); err == nil {
			v.secretRe = append(v.secretRe, re)
		}
	}
	return v
}

// Run validates every artifact, returning one Report apiece. It returns
// ErrCriticalArtifactFailed on the first artifact marked critical that
// fails any check; non-critical failures are logged to the audit log as
// warnings and do not stop the run (spec §4.D, Policy).
func (v *Validator) Run(ctx context.Context, artifacts []Artifact) ([]Report, error) {
	reports := make([]Report, 0, len(artifacts))
	for _, a := range artifacts {
		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		default:
		}

		r := v.validateOne(a)
		reports = append(reports, r)

		if !r.Passed {
			if a.Critical {
				return reports, &ErrCriticalArtifactFailed{Artifact: a, Reports: reports}
			}
			v.recordWarning(r)
		}
	}
	return reports, nil
}

func (v *Validator) validateOne(a Artifact) Report {
	r := Report{Artifact: a, Passed: true}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		r.Checks = append(r.Checks, CheckResult{Name: "readable", Passed: false, Detail: err.Error()})
		r.Passed = false
		return r
	}
	text := string(content)

	parsable, detail := v.checkParsability(a, text)
	r.Checks = append(r.Checks, CheckResult{Name: "parsability", Passed: parsable, Detail: detail})
	r.Passed = r.Passed && parsable

	resolvable, detail := v.checkImportResolvability(a, text)
	r.Checks = append(r.Checks, CheckResult{Name: "import_resolvability", Passed: resolvable, Detail: detail})
	r.Passed = r.Passed && resolvable

	clean, detail := v.checkForbiddenPatterns(text)
	r.Checks = append(r.Checks, CheckResult{Name: "forbidden_patterns", Passed: clean, Detail: detail})
	r.Passed = r.Passed && clean

	noSecrets, detail := v.checkSecretMarkers(text)
	r.Checks = append(r.Checks, CheckResult{Name: "secret_markers", Passed: noSecrets, Detail: detail})
	r.Passed = r.Passed && noSecrets

	return r
}

func (v *Validator) checkParsability(a Artifact, text string) (bool, string) {
	if !utf8.ValidString(text) {
		return false, "artifact is not valid UTF-8"
	}
	if a.Language != "go" {
		// Non-Go artifacts only get the UTF-8 sanity check; full-language
		// parsing is out of scope (spec §1, "specific language-toolchain
		// sandboxes" are an external collaborator's concern).
		return true, "non-go artifact, UTF-8 validated only"
	}
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, a.Path, text, parser.ParseComments); err != nil {
		return false, err.Error()
	}
	return true, "parsed successfully"
}

func (v *Validator) checkImportResolvability(a Artifact, text string) (bool, string) {
	if a.Language != "go" || len(v.manifest) == 0 {
		return true, "no manifest configured or non-go artifact"
	}
	scanner := bufio.NewScanner(strings.NewReader(text))
	inImportBlock := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "import ("):
			inImportBlock = true
			continue
		case inImportBlock && line == ")":
			inImportBlock = false
			continue
		case strings.HasPrefix(line, "import \""):
			line = strings.TrimPrefix(line, "import ")
		case !inImportBlock:
			continue
		}
		path := extractImportPath(line)
		if path == "" {
			continue
		}
		if _, ok := v.manifest[path]; !ok {
			return false, fmt.Sprintf("import %q is not in the known-module manifest", path)
		}
	}
	return true, "all imports resolve against the manifest"
}

func extractImportPath(line string) string {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(line[start+1:], '"')
	if end < 0 {
		return ""
	}
	return line[start+1 : start+1+end]
}

func (v *Validator) checkForbiddenPatterns(text string) (bool, string) {
	if v.guardrail == nil {
		return true, "no guardrails document configured"
	}
	for _, imp := range v.guardrail.CodeGeneration.ForbiddenImports {
		if strings.Contains(text, imp) {
			return false, fmt.Sprintf("artifact references forbidden import %q", imp)
		}
	}
	for _, p := range v.guardrail.CodeGeneration.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return false, fmt.Sprintf("artifact matches forbidden pattern %q", p)
		}
	}
	return true, "no forbidden patterns present"
}

func (v *Validator) checkSecretMarkers(text string) (bool, string) {
	for _, re := range v.secretRe {
		if re.MatchString(text) {
			return false, fmt.Sprintf("artifact matches hardcoded-secret marker %q", re.String())
		}
	}
	return true, "no secret markers present"
}

func (v *Validator) recordWarning(r Report) {
	if v.auditor == nil {
		return
	}
	var failed []string
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	ev := audit.Event{
		ID:       uuid.NewString(),
		Wall:     time.Now(),
		Type:     audit.EventPreflightWarning,
		Source:   "preflight",
		Resource: r.Artifact.Path,
		Severity: audit.SeverityLow,
		Payload: map[string]any{
			"failed_checks": failed,
		},
	}
	if _, err := v.auditor.Append(ev); err != nil {
		v.log.Error("preflight: failed to append audit warning", "artifact", r.Artifact.Path, "error", err)
	}
}
