package scheduler

import (
	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

// cluster is one (domain, severity, class) bucket of recent events, with
// its derived urgency/recurrence and the resulting risk/impact/combined
// scores (spec §4.L).
type cluster struct {
	Domain       string
	Severity     string
	Class        string
	EventCount   int
	Urgency      float64
	Recurrence   float64
	RiskScore    float64
	ImpactScore  float64
	CombinedScore float64
}

func classOf(e audit.Event) string {
	if c, ok := e.Payload["classification"].(string); ok && c != "" {
		return c
	}
	return e.Type
}

// infrastructureCriticalDomains are the event sources triage considers
// during the boot phase — the subsystems a fresh process most needs
// watched before anything else (spec §4.L: boot-phase triage is scoped
// to infrastructure-critical domains only; steady-phase triage considers
// every domain).
var infrastructureCriticalDomains = map[string]bool{
	"supervisor": true,
	"governance": true,
	"preflight":  true,
}

// clusterEvents groups entries by (source domain, severity, class),
// computing urgency (the cluster's severity multiplier)
// and recurrence (event count normalized against the batch size), then
// derives risk_score, impact_score and combined (spec §4.L). During the
// boot phase, entries outside infrastructureCriticalDomains are ignored.
func clusterEvents(entries []audit.AuditEntry, phase Phase) []cluster {
	type key struct{ domain, severity, class string }
	buckets := make(map[key][]audit.Event)
	for _, e := range entries {
		if phase == PhaseBoot && !infrastructureCriticalDomains[e.Source] {
			continue
		}
		k := key{domain: e.Source, severity: string(e.Event.Severity), class: classOf(e.Event)}
		buckets[k] = append(buckets[k], e.Event)
	}

	total := len(entries)
	clusters := make([]cluster, 0, len(buckets))
	for k, evs := range buckets {
		eventCountNorm := 0.0
		if total > 0 {
			eventCountNorm = float64(len(evs)) / float64(total)
		}
		urgency := severityScore(k.severity)
		recurrence := recurrenceScore(len(evs))
		risk := severityScore(k.severity) // severity multiplier only; no per-domain multiplier is applied
		impact := eventCountNorm * urgency * recurrence
		if impact > 1 {
			impact = 1
		}
		clusters = append(clusters, cluster{
			Domain:        k.domain,
			Severity:      k.severity,
			Class:         k.class,
			EventCount:    len(evs),
			Urgency:       urgency,
			Recurrence:    recurrence,
			RiskScore:     risk,
			ImpactScore:   impact,
			CombinedScore: combinedScore(risk, impact),
		})
	}
	return clusters
}

// recurrenceScore saturates toward 1 as a cluster repeats, without ever
// quite reaching it for a single occurrence.
func recurrenceScore(count int) float64 {
	if count <= 1 {
		return 0.2
	}
	score := 1 - 1/float64(count+1)
	if score > 1 {
		return 1
	}
	return score
}
