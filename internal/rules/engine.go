// Package rules implements the constitutional rule engine. Each rule carries
// a machine-checkable condition written in the expr expression language,
// evaluated against a reported violation's evidence.
//
// A condition describes the breach: evaluating true means the rule was
// violated, false means the conduct satisfied the rule, and any compile or
// runtime failure — including evidence that simply doesn't carry the fields
// a condition references — yields an indeterminate finding for that rule
// alone. One bad predicate never aborts the whole evaluation.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PredicateError wraps a single rule's compile or runtime failure. It is
// recorded on the finding, never propagated as an evaluation failure.
type PredicateError struct {
	RuleID string
	Err    error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("rules: predicate %s failed: %v", e.RuleID, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// Engine evaluates rules against violations. Compiled predicates are cached
// per rule version; rules are immutable so the cache never invalidates.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program // key: rule VersionedID
}

// NewEngine creates a rule engine with an empty predicate cache.
func NewEngine() *Engine {
	return &Engine{programs: make(map[string]*vm.Program)}
}

// Evaluate runs every rule's predicate against the violation's evidence and
// returns one finding per rule. Predicates are pure and independent, so they
// run concurrently; findings are returned sorted by rule id for stable
// output, but the set is what carries meaning.
func (e *Engine) Evaluate(ctx context.Context, v models.Violation, ruleset []models.ConstitutionalRule) []models.Finding {
	findings := make([]models.Finding, len(ruleset))
	env := evidenceEnv(v)

	g, ctx := errgroup.WithContext(ctx)
	for i, rule := range ruleset {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				findings[i] = indeterminate(rule, v, ctx.Err())
				return nil
			default:
			}
			findings[i] = e.evaluateOne(rule, v, env)
			return nil
		})
	}
	// Workers only ever return nil; errgroup is used for the join and the
	// shared cancellation context.
	_ = g.Wait()

	sort.Slice(findings, func(i, j int) bool { return findings[i].RuleID < findings[j].RuleID })
	return findings
}

// evaluateOne applies a single rule, degrading failures to indeterminate.
func (e *Engine) evaluateOne(rule models.ConstitutionalRule, v models.Violation, env map[string]interface{}) models.Finding {
	program, err := e.compile(rule)
	if err != nil {
		return indeterminate(rule, v, err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return indeterminate(rule, v, err)
	}

	breached, ok := out.(bool)
	if !ok {
		return indeterminate(rule, v, fmt.Errorf("condition returned %T, want bool", out))
	}

	status := models.FindingSatisfied
	detail := fmt.Sprintf("condition %q not met by evidence", rule.Condition)
	if breached {
		status = models.FindingViolated
		detail = fmt.Sprintf("condition %q met by evidence", rule.Condition)
	}
	return models.Finding{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		Status:      status,
		Severity:    rule.Severity,
		Detail:      detail,
		Evidenced:   len(v.EvidenceRefs) > 0,
	}
}

// compile returns the cached program for a rule version, compiling on first use.
func (e *Engine) compile(rule models.ConstitutionalRule) (*vm.Program, error) {
	key := rule.VersionedID()

	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(rule.Condition)
	if err != nil {
		return nil, &PredicateError{RuleID: rule.ID, Err: err}
	}

	e.mu.Lock()
	e.programs[key] = program
	e.mu.Unlock()
	return program, nil
}

// evidenceEnv builds the expression environment: evidence fields at the top
// level for terse conditions, plus the violation's own attributes under
// reserved names.
func evidenceEnv(v models.Violation) map[string]interface{} {
	env := make(map[string]interface{}, len(v.Evidence)+4)
	for k, val := range v.Evidence {
		env[k] = val
	}
	env["subject"] = v.Subject
	env["severity"] = string(v.Severity)
	env["reported_by"] = v.ReportedBy
	env["evidence_refs"] = v.EvidenceRefs
	return env
}

func indeterminate(rule models.ConstitutionalRule, v models.Violation, err error) models.Finding {
	log.Debug().
		Str("rule", rule.ID).
		Str("violation", v.ID).
		Err(err).
		Msg("Predicate degraded to indeterminate")
	return models.Finding{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		Status:      models.FindingIndeterminate,
		Severity:    rule.Severity,
		Detail:      fmt.Sprintf("insufficient evidence: %v", err),
		Evidenced:   false,
	}
}
