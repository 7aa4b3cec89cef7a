// Package verdict synthesizes rule findings, debate consensus, active
// waivers, and similar precedents into a signed, immutable verdict.
//
// Waiver suppression is an explicit pre-verdict filter over the finding set:
// rule engine output is never mutated, so findings stay independently
// testable and auditable next to the verdict that consumed them.
package verdict

import (
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/internal/precedent"
	"github.com/arbiterhq/arbiter/governance-core/internal/waiver"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Authority identifies this generator in issued verdicts.
const Authority = "arbiter-governance-core"

// DegradedConfidence is the confidence of verdicts issued after engine
// failures exhausted their retry budget.
const DegradedConfidence = 0.05

// topKPrecedents caps how many similar precedents a verdict consults.
const topKPrecedents = 3

// Generator builds verdicts.
type Generator struct {
	precedents *precedent.Store
	waivers    *waiver.Manager
	now        func() time.Time
}

// NewGenerator creates a verdict generator over the given stores.
func NewGenerator(precedents *precedent.Store, waivers *waiver.Manager) *Generator {
	return &Generator{
		precedents: precedents,
		waivers:    waivers,
		now:        time.Now,
	}
}

// Input carries everything one evaluation stage produced.
type Input struct {
	SessionID string
	Violation models.Violation
	Rules     []models.ConstitutionalRule
	Findings  []models.Finding
	Consensus *models.ConsensusResult
	// Degraded marks a verdict generated after engine failures; it is
	// issued at the lowest confidence and is always appealable.
	Degraded bool
}

// Generate synthesizes the verdict. Every verdict cites at least one rule
// or precedent; when findings are empty the implicated rules themselves are
// cited so degraded output still names what was examined.
func (g *Generator) Generate(in Input) models.Verdict {
	now := g.now().UTC()

	active := g.suppressed(in)
	findings := filterWaived(in.Findings, active)

	outcome, confidence, reasoning := weigh(findings, in.Consensus)

	// Evidence credibility: a verdict built on unevidenced findings is
	// worth less than one every finding backs with concrete references.
	confidence *= credibility(findings)

	if len(active) > 0 {
		reasoning = append(reasoning, fmt.Sprintf(
			"%d violated finding(s) suppressed by active waivers", len(active)))
	}

	v := models.Verdict{
		ID:        uuid.New().String(),
		SessionID: in.SessionID,
		Outcome:   outcome,
		Reasoning: reasoning,
		Authority: Authority,
		Degraded:  in.Degraded,
		IssuedAt:  now,
	}

	v.RuleCitations = citations(in, findings)
	for _, p := range g.precedents.TopSimilar(tagsFor(in), topKPrecedents) {
		v.PrecedentIDs = append(v.PrecedentIDs, p.ID)
		if _, err := g.precedents.Cite(p.ID); err != nil {
			log.Warn().Err(err).Str("precedent", p.ID).Msg("Citation increment failed")
		}
		v.Reasoning = append(v.Reasoning, fmt.Sprintf("precedent %s: %s", p.ID, p.Summary))
	}

	if in.Degraded {
		confidence = DegradedConfidence
		v.Reasoning = append(v.Reasoning, "generated-under-degraded-conditions")
	}
	v.Confidence = clamp01(confidence)
	v.Signature = v.ContentHash()

	log.Info().
		Str("verdict", v.ID).
		Str("session", in.SessionID).
		Str("outcome", string(v.Outcome)).
		Float64("confidence", v.Confidence).
		Bool("degraded", v.Degraded).
		Msg("Verdict issued")

	return v
}

// RecordPrecedent indexes a just-issued verdict for future citation.
func (g *Generator) RecordPrecedent(v models.Verdict, in Input) models.Precedent {
	return g.precedents.Record(v, tagsFor(in))
}

// suppressed returns, per rule id, whether an active waiver covers the
// violation's subject.
func (g *Generator) suppressed(in Input) map[string]bool {
	out := make(map[string]bool)
	for _, f := range in.Findings {
		if f.Status != models.FindingViolated {
			continue
		}
		if len(g.waivers.ActiveFor(f.RuleID, in.Violation.Subject)) > 0 {
			out[f.RuleID] = true
		}
	}
	return out
}

// filterWaived drops violated findings whose rule is waived. Satisfied and
// indeterminate findings pass through untouched.
func filterWaived(findings []models.Finding, waived map[string]bool) []models.Finding {
	if len(waived) == 0 {
		return findings
	}
	out := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Status == models.FindingViolated && waived[f.RuleID] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// weigh folds findings and any consensus into outcome + confidence +
// ordered reasoning.
func weigh(findings []models.Finding, consensus *models.ConsensusResult) (models.VerdictOutcome, float64, []string) {
	var violated, satisfied, indeterminate int
	var reasoning []string
	for _, f := range findings {
		switch f.Status {
		case models.FindingViolated:
			violated++
			reasoning = append(reasoning, fmt.Sprintf("rule %s violated: %s", f.RuleID, f.Detail))
		case models.FindingSatisfied:
			satisfied++
		default:
			indeterminate++
			reasoning = append(reasoning, fmt.Sprintf("rule %s indeterminate: %s", f.RuleID, f.Detail))
		}
	}

	total := violated + satisfied + indeterminate

	// A debate verdict trumps raw finding counts: the consensus outcome
	// maps directly onto the disposition, scaled by its own confidence.
	if consensus != nil && consensus.Reached() {
		outcome := outcomeFromPosition(consensus.Outcome)
		reasoning = append(reasoning, fmt.Sprintf(
			"debate consensus %q via %s (confidence %.2f, %d votes)",
			consensus.Outcome, consensus.Algorithm, consensus.Confidence, consensus.VoteCount))
		return outcome, consensus.Confidence, reasoning
	}

	switch {
	case total == 0:
		reasoning = append(reasoning, "no findings available; dismissing without prejudice")
		return models.VerdictDismissed, 0, reasoning
	case violated == 0 && indeterminate == 0:
		reasoning = append(reasoning, fmt.Sprintf("all %d rule(s) satisfied", satisfied))
		return models.VerdictDismissed, 1.0, reasoning
	case violated > 0 && indeterminate == 0:
		// Unambiguous: confidence is the rule engine's certainty.
		return models.VerdictUpheld, 1.0, reasoning
	case violated > 0:
		// Mixed signals: uphold, discounted by the unresolved fraction.
		return models.VerdictUpheld, float64(violated) / float64(violated+indeterminate), reasoning
	default:
		reasoning = append(reasoning, "only indeterminate findings; outcome modified pending better evidence")
		return models.VerdictModified, float64(satisfied) / float64(total), reasoning
	}
}

// credibility scales confidence by the fraction of findings backed by
// concrete evidence references. No findings — no discount.
func credibility(findings []models.Finding) float64 {
	if len(findings) == 0 {
		return 1
	}
	evidenced := 0
	for _, f := range findings {
		if f.Evidenced {
			evidenced++
		}
	}
	// Floor at 0.5: thin evidence weakens a verdict, it doesn't void it.
	return 0.5 + 0.5*float64(evidenced)/float64(len(findings))
}

// citations collects rule citations from surviving findings, falling back
// to the session's implicated rules so a verdict never cites nothing.
func citations(in Input, findings []models.Finding) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, f := range findings {
		add(fmt.Sprintf("%s@%d", f.RuleID, f.RuleVersion))
	}
	if len(out) == 0 {
		for _, r := range in.Rules {
			add(r.VersionedID())
		}
	}
	return out
}

func outcomeFromPosition(position string) models.VerdictOutcome {
	switch position {
	case "dismiss", string(models.VerdictDismissed):
		return models.VerdictDismissed
	case "modify", string(models.VerdictModified):
		return models.VerdictModified
	default:
		return models.VerdictUpheld
	}
}

func tagsFor(in Input) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, r := range in.Rules {
		if r.Category == "" {
			continue
		}
		if _, ok := seen[r.Category]; !ok {
			seen[r.Category] = struct{}{}
			tags = append(tags, r.Category)
		}
	}
	tags = append(tags, string(in.Violation.Severity))
	return tags
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
