package governance

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/codeready-toolchain/grace-core/pkg/governance/policy"
)

// compiledGuardrails caches compiled forbidden-pattern regexes so
// evaluateGuardrails doesn't recompile them on every action.
type compiledGuardrails struct {
	doc              *policy.Guardrails
	forbiddenPattern []*regexp.Regexp
}

var (
	guardrailsCacheMu sync.Mutex
	guardrailsCache   *compiledGuardrails
)

func compile(doc *policy.Guardrails) *compiledGuardrails {
	guardrailsCacheMu.Lock()
	defer guardrailsCacheMu.Unlock()
	if guardrailsCache != nil && guardrailsCache.doc == doc {
		return guardrailsCache
	}
	cg := &compiledGuardrails{doc: doc}
	for _, p := range doc.CodeGeneration.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue // left out here; checkForbiddenPatterns fails its check when any pattern is missing
		}
		cg.forbiddenPattern = append(cg.forbiddenPattern, re)
	}
	guardrailsCache = cg
	return cg
}

// evaluateGuardrails implements layer 2 (spec §4.C.2): allowed/forbidden
// directory containment (plain path prefixes, not globs), forbidden code
// patterns and max_lines_per_file, forbidden imports, and forbidden SQL
// statement prefixes. ResourceLimits and read_only_tables are not checked
// by this layer. Any single failed check fails the whole layer, and a
// forbidden pattern that does not compile fails the pattern check.
func evaluateGuardrails(doc *policy.Guardrails, req ActionRequest) LayerResult {
	cg := compile(doc)

	if reason, ok := checkFilesystem(doc, req); !ok {
		return LayerResult{Passed: false, Rationale: reason}
	}
	if reason, ok := checkForbiddenPatterns(cg, req); !ok {
		return LayerResult{Passed: false, Rationale: reason}
	}
	if reason, ok := checkForbiddenImports(doc, req); !ok {
		return LayerResult{Passed: false, Rationale: reason}
	}
	if reason, ok := checkDatabaseStatements(doc, req); !ok {
		return LayerResult{Passed: false, Rationale: reason}
	}
	return LayerResult{Passed: true, Rationale: "all guardrail checks passed"}
}

func checkFilesystem(doc *policy.Guardrails, req ActionRequest) (string, bool) {
	if req.Resource == "" {
		return "", true
	}
	for _, forbidden := range doc.Filesystem.ForbiddenDirectories {
		if within(forbidden, req.Resource) {
			return fmt.Sprintf("resource %q is under forbidden directory %q", req.Resource, forbidden), false
		}
	}
	if len(doc.Filesystem.AllowedDirectories) > 0 {
		allowed := false
		for _, dir := range doc.Filesystem.AllowedDirectories {
			if within(dir, req.Resource) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("resource %q is not under any allowed directory", req.Resource), false
		}
	}
	return "", true
}

func within(dir, resource string) bool {
	rel, err := filepath.Rel(dir, resource)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func checkForbiddenPatterns(cg *compiledGuardrails, req ActionRequest) (string, bool) {
	content, _ := req.Payload["new_content"].(string)
	if content == "" {
		return "", true
	}
	if len(cg.forbiddenPattern) != len(cg.doc.CodeGeneration.ForbiddenPatterns) {
		return "a forbidden_patterns entry is not a valid regular expression", false
	}
	for _, re := range cg.forbiddenPattern {
		if re.MatchString(content) {
			return fmt.Sprintf("payload content matches forbidden pattern %q", re.String()), false
		}
	}
	if doc := cg.doc; doc.CodeGeneration.MaxLinesPerFile > 0 {
		if lines := strings.Count(content, "\n") + 1; lines > doc.CodeGeneration.MaxLinesPerFile {
			return fmt.Sprintf("patched file would have %d lines, exceeding max_lines_per_file=%d", lines, doc.CodeGeneration.MaxLinesPerFile), false
		}
	}
	return "", true
}

func checkForbiddenImports(doc *policy.Guardrails, req ActionRequest) (string, bool) {
	content, _ := req.Payload["new_content"].(string)
	for _, imp := range doc.CodeGeneration.ForbiddenImports {
		if strings.Contains(content, imp) {
			return fmt.Sprintf("payload imports forbidden package %q", imp), false
		}
	}
	return "", true
}

func checkDatabaseStatements(doc *policy.Guardrails, req ActionRequest) (string, bool) {
	stmt, _ := req.Payload["sql_statement"].(string)
	if stmt == "" {
		return "", true
	}
	upper := strings.ToUpper(stmt)
	for _, forbidden := range doc.Database.ForbiddenStatements {
		if strings.HasPrefix(strings.TrimSpace(upper), strings.ToUpper(forbidden)) {
			return fmt.Sprintf("SQL statement begins with forbidden keyword %q", forbidden), false
		}
	}
	return "", true
}
