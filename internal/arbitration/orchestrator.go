// Package arbitration owns the session lifecycle from violation report to
// closed verdict. The orchestrator sequences the rule engine, the debate
// engine, the verdict generator and the appeal handler; many sessions run
// concurrently but operations within one session are strictly ordered.
package arbitration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arbiterhq/arbiter/governance-core/internal/appeal"
	"github.com/arbiterhq/arbiter/governance-core/internal/config"
	"github.com/arbiterhq/arbiter/governance-core/internal/debate"
	"github.com/arbiterhq/arbiter/governance-core/internal/notify"
	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/internal/rules"
	"github.com/arbiterhq/arbiter/governance-core/internal/store"
	"github.com/arbiterhq/arbiter/governance-core/internal/verdict"
	"github.com/arbiterhq/arbiter/governance-core/pkg/contracts"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
)

var tracer = otel.Tracer("arbiter-governance-core")

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("arbitration: session not found")
	// ErrViolationInFlight is returned when a live session already exists
	// for a violation. One live session per violation.
	ErrViolationInFlight = errors.New("arbitration: violation already has a live session")
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current state.
	ErrInvalidState = errors.New("arbitration: invalid session state")
	// ErrNoDebate is returned when a session has no debate in flight.
	ErrNoDebate = errors.New("arbitration: no debate in flight")
	// ErrReviewInFlight is returned when closing a session whose appeal
	// review has not reached a terminal outcome.
	ErrReviewInFlight = errors.New("arbitration: appeal review in flight")
	// ErrEmptyConstitution is returned when a violation implicates no rules
	// at all. A verdict must cite something; with nothing to cite the
	// violation is rejected at the door.
	ErrEmptyConstitution = errors.New("arbitration: no rules to arbitrate against")
)

// Stage names recorded in session metrics.
const (
	StageOpen     = "open"
	StageRules    = "rules_evaluation"
	StageDebate   = "debate"
	StageVerdict  = "verdict"
	StageAppeal   = "appeal_review"
	StageCancel   = "cancel"
	StageArchival = "archival"
)

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	Store     store.Store
	Archive   store.Archiver // optional; nil disables archival on close
	Rules     *rules.Engine
	Debate    *debate.Engine
	Verdicts  *verdict.Generator
	Appeals   *appeal.Handler
	Registry  *registry.Registry
	Publisher contracts.Publisher // optional; nil disables notifications
}

// review tracks an appeal level in flight for a session.
type review struct {
	appealID     string
	level        int
	priorOutcome models.VerdictOutcome
}

// Orchestrator drives arbitration sessions through the state machine.
type Orchestrator struct {
	cfg  config.ArbitrationConfig
	deps Deps

	mu      sync.Mutex
	debates map[string]string      // session id → live debate session id
	reviews map[string]*review     // session id → appeal review in flight
	locks   map[string]*sync.Mutex // session id → operation serializer
}

// New creates an orchestrator.
func New(cfg config.ArbitrationConfig, deps Deps) *Orchestrator {
	if cfg.EngineRetries <= 0 {
		cfg.EngineRetries = 3
	}
	if cfg.MaxAppealLevel <= 0 {
		cfg.MaxAppealLevel = appeal.DefaultMaxLevel
	}
	if cfg.AutoResolveSeverity == "" {
		cfg.AutoResolveSeverity = string(models.SeverityMinor)
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		debates: make(map[string]string),
		reviews: make(map[string]*review),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockSession serializes operations on one session: one active stage at a
// time. Sessions never contend with each other. The returned func releases.
func (o *Orchestrator) lockSession(id string) func() {
	o.mu.Lock()
	m, ok := o.locks[id]
	if !ok {
		m = &sync.Mutex{}
		o.locks[id] = m
	}
	o.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (o *Orchestrator) releaseLock(id string) {
	o.mu.Lock()
	delete(o.locks, id)
	o.mu.Unlock()
}

// ── Opening ─────────────────────────────────────────────────

// Open files a violation and runs its session up to the first suspension
// point: either a verdict is issued before Open returns, or the session is
// left awaiting debate arguments and votes.
func (o *Orchestrator) Open(ctx context.Context, v models.Violation, participants []string) (models.ArbitrationSession, error) {
	ctx, span := tracer.Start(ctx, "arbitration.open")
	defer span.End()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.ReportedAt.IsZero() {
		v.ReportedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.String("violation.id", v.ID), attribute.String("violation.subject", v.Subject))

	if existing, err := o.deps.Store.FindSessionByViolation(ctx, v.ID); err == nil {
		return models.ArbitrationSession{}, fmt.Errorf("%w: session %s", ErrViolationInFlight, existing.ID)
	}

	ruleset, err := o.matchRules(ctx, v)
	if err != nil {
		return models.ArbitrationSession{}, err
	}
	if len(ruleset) == 0 {
		// Nothing to evaluate and nothing a verdict could cite.
		return models.ArbitrationSession{}, fmt.Errorf("%w: violation %s", ErrEmptyConstitution, v.ID)
	}
	if err := o.deps.Store.CreateViolation(ctx, &v); err != nil {
		return models.ArbitrationSession{}, fmt.Errorf("filing violation: %w", err)
	}

	now := time.Now().UTC()
	s := &models.ArbitrationSession{
		ID:           uuid.New().String(),
		Violation:    v,
		Rules:        ruleset,
		Participants: participants,
		State:        models.SessionOpened,
		OpenedAt:     now,
	}
	recordStage(s, StageOpen, now, 1)
	defer o.lockSession(s.ID)()
	if err := o.deps.Store.CreateSession(ctx, s); err != nil {
		return models.ArbitrationSession{}, fmt.Errorf("opening session: %w", err)
	}

	log.Info().
		Str("session", s.ID).
		Str("violation", v.ID).
		Str("subject", v.Subject).
		Str("severity", string(v.Severity)).
		Int("rules", len(ruleset)).
		Msg("Arbitration session opened")
	o.publish(ctx, notify.EventSessionOpened, s, nil)

	if err := o.evaluate(ctx, s, models.SimpleMajority); err != nil {
		return models.ArbitrationSession{}, err
	}
	return *s, nil
}

// matchRules resolves the rules a violation implicates. An empty rule list
// implicates the whole constitution.
func (o *Orchestrator) matchRules(ctx context.Context, v models.Violation) ([]models.ConstitutionalRule, error) {
	if len(v.RuleIDs) == 0 {
		all, err := o.deps.Store.ListRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading constitution: %w", err)
		}
		return all, nil
	}
	out := make([]models.ConstitutionalRule, 0, len(v.RuleIDs))
	for _, id := range v.RuleIDs {
		r, err := o.deps.Store.GetRule(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("matching rule %s: %w", id, err)
		}
		out = append(out, *r)
	}
	return out, nil
}

// ── Evaluation pipeline ─────────────────────────────────────

// evaluate runs the rule stage and either requests a debate or issues the
// verdict directly. The session is persisted after every transition.
func (o *Orchestrator) evaluate(ctx context.Context, s *models.ArbitrationSession, algorithm models.ConsensusAlgorithm) error {
	ctx, span := tracer.Start(ctx, "arbitration.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("consensus.algorithm", string(algorithm)))

	started := time.Now().UTC()
	findings, attempts, engineErr := o.evaluateRules(ctx, s)
	s.Findings = findings
	s.Consensus = nil
	s.State = models.SessionRulesEvaluated
	recordStage(s, StageRules, started, attempts)

	if engineErr != nil {
		// Retry budget exhausted. A decision beats silence: issue the
		// lowest-confidence verdict and leave the appeal path open.
		log.Warn().Err(engineErr).Str("session", s.ID).Int("attempts", attempts).
			Msg("Rule evaluation degraded, issuing low-confidence verdict")
		return o.issueVerdict(ctx, s, true)
	}
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("recording findings: %w", err)
	}

	if o.needsDebate(s) {
		return o.requestDebate(ctx, s, algorithm)
	}
	return o.issueVerdict(ctx, s, false)
}

// evaluateRules runs the rule engine with a bounded exponential-backoff
// retry budget. A run where every finding failed on a predicate error
// counts as an engine failure, not a result.
func (o *Orchestrator) evaluateRules(ctx context.Context, s *models.ArbitrationSession) ([]models.Finding, int, error) {
	var findings []models.Finding
	attempts := 0

	op := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		findings = o.deps.Rules.Evaluate(ctx, s.Violation, s.Rules)
		if len(findings) > 0 && allIndeterminate(findings) {
			return fmt.Errorf("all %d predicates failed", len(findings))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(o.cfg.EngineRetries)), ctx))
	return findings, attempts, err
}

func allIndeterminate(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Status != models.FindingIndeterminate {
			return false
		}
	}
	return true
}

// needsDebate decides whether the findings can auto-resolve. Any
// indeterminate finding, or a severity above the auto-resolve threshold,
// convenes a debate.
func (o *Orchestrator) needsDebate(s *models.ArbitrationSession) bool {
	for _, f := range s.Findings {
		if f.Status == models.FindingIndeterminate {
			return true
		}
	}
	threshold := models.Severity(o.cfg.AutoResolveSeverity).Rank()
	return s.Violation.Severity.Rank() > threshold
}

// requestDebate opens a debate round over the contested violation. When the
// registry cannot seat enough participants the session falls back to a
// rule-engine-only verdict instead of blocking.
func (o *Orchestrator) requestDebate(ctx context.Context, s *models.ArbitrationSession, algorithm models.ConsensusAlgorithm) error {
	topic := fmt.Sprintf("violation %s against %s", s.Violation.ID, s.Violation.Subject)
	ds, err := o.deps.Debate.Initiate(topic, o.seat(s.Participants), algorithm, 0)
	if err != nil {
		if errors.Is(err, debate.ErrInsufficientParticipants) {
			log.Warn().Str("session", s.ID).Int("participants", len(s.Participants)).
				Msg("Cannot seat a debate, falling back to rule-only verdict")
			return o.issueVerdict(ctx, s, false)
		}
		return fmt.Errorf("initiating debate: %w", err)
	}

	o.mu.Lock()
	o.debates[s.ID] = ds.ID
	o.mu.Unlock()

	s.State = models.SessionDebateRequested
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("recording debate request: %w", err)
	}

	log.Info().
		Str("session", s.ID).
		Str("debate", ds.ID).
		Str("algorithm", string(algorithm)).
		Int("participants", len(ds.Participants)).
		Msg("Debate requested")
	o.publish(ctx, notify.EventDebateRequested, s, map[string]interface{}{
		"debate_id": ds.ID,
		"algorithm": string(algorithm),
	})
	return nil
}

// seat builds the debate bench. Participant weight is the agent's current
// success rate so proven agents carry more voting power; agents outside the
// registry sit with neutral weight.
func (o *Orchestrator) seat(agentIDs []string) []models.Participant {
	out := make([]models.Participant, 0, len(agentIDs))
	for i, id := range agentIDs {
		role := models.RoleReviewer
		switch i {
		case 0:
			role = models.RoleProponent
		case 1:
			role = models.RoleOpponent
		}
		weight := 1.0
		if o.deps.Registry != nil {
			if rec, err := o.deps.Registry.Get(id); err == nil && rec.Performance.SuccessRate > 0 {
				weight = rec.Performance.SuccessRate
			}
		}
		out = append(out, models.Participant{AgentID: id, Role: role, Weight: weight})
	}
	return out
}

// DebateID returns the live debate bound to a session.
func (o *Orchestrator) DebateID(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.debates[sessionID]
	return id, ok
}

// CompleteDebate finalizes the session's debate, folds the consensus into
// the verdict stage and, if an appeal review was in flight, resolves the
// review level. Callable any time after the debate deadline or once all
// votes are in; the consensus is formed from whatever votes were cast.
func (o *Orchestrator) CompleteDebate(ctx context.Context, sessionID string) (models.ArbitrationSession, error) {
	ctx, span := tracer.Start(ctx, "arbitration.complete_debate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	defer o.lockSession(sessionID)()
	s, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return models.ArbitrationSession{}, err
	}
	if s.State != models.SessionDebateRequested {
		return models.ArbitrationSession{}, fmt.Errorf("%w: %s", ErrInvalidState, s.State)
	}

	o.mu.Lock()
	debateID, ok := o.debates[sessionID]
	o.mu.Unlock()
	if !ok {
		return models.ArbitrationSession{}, fmt.Errorf("%w: %s", ErrNoDebate, sessionID)
	}

	started := time.Now().UTC()
	consensus, attempts, formErr := o.formConsensus(ctx, debateID)
	o.mu.Lock()
	delete(o.debates, sessionID)
	o.mu.Unlock()

	if formErr != nil {
		log.Warn().Err(formErr).Str("session", s.ID).Msg("Consensus formation degraded")
		recordStage(s, StageDebate, started, attempts)
		s.State = models.SessionDebateResolved
		if err := o.issueVerdict(ctx, s, true); err != nil {
			return models.ArbitrationSession{}, err
		}
		return *s, nil
	}

	s.Consensus = &consensus
	s.State = models.SessionDebateResolved
	recordStage(s, StageDebate, started, attempts)
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return models.ArbitrationSession{}, fmt.Errorf("recording consensus: %w", err)
	}

	log.Info().
		Str("session", s.ID).
		Str("outcome", consensus.Outcome).
		Float64("confidence", consensus.Confidence).
		Bool("forced", consensus.Forced).
		Msg("Debate resolved")

	if err := o.issueVerdict(ctx, s, false); err != nil {
		return models.ArbitrationSession{}, err
	}
	return *s, nil
}

// formConsensus finalizes a debate with the same bounded retry budget the
// rule stage gets.
func (o *Orchestrator) formConsensus(ctx context.Context, debateID string) (models.ConsensusResult, int, error) {
	var out models.ConsensusResult
	attempts := 0

	op := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		res, err := o.deps.Debate.FormConsensus(debateID)
		if err != nil {
			if errors.Is(err, debate.ErrSessionClosed) || errors.Is(err, debate.ErrSessionNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(o.cfg.EngineRetries)), ctx))
	return out, attempts, err
}

// SweepExpiredDebates forcibly finalizes every live debate whose deadline
// has elapsed, issuing each session's verdict from whatever votes were cast.
// Returns the ids of the sessions finalized. Called by the retention janitor
// so a debate nobody completes cannot park its session forever.
func (o *Orchestrator) SweepExpiredDebates(ctx context.Context) []string {
	o.mu.Lock()
	pending := make(map[string]string, len(o.debates))
	for sessionID, debateID := range o.debates {
		pending[sessionID] = debateID
	}
	o.mu.Unlock()

	var finalized []string
	for sessionID, debateID := range pending {
		expired, err := o.deps.Debate.Expired(debateID)
		if err != nil || !expired {
			continue
		}
		if _, err := o.CompleteDebate(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Forced debate finalization failed")
			continue
		}
		log.Info().Str("session", sessionID).Str("debate", debateID).Msg("Expired debate forcibly finalized")
		finalized = append(finalized, sessionID)
	}
	return finalized
}

// ── Verdict stage ───────────────────────────────────────────

// issueVerdict runs the generator, persists the verdict and, when an
// appeal review was in flight, resolves the level against the prior
// outcome.
func (o *Orchestrator) issueVerdict(ctx context.Context, s *models.ArbitrationSession, degraded bool) error {
	ctx, span := tracer.Start(ctx, "arbitration.issue_verdict")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.Bool("degraded", degraded))

	started := time.Now().UTC()
	in := verdict.Input{
		SessionID: s.ID,
		Violation: s.Violation,
		Rules:     s.Rules,
		Findings:  s.Findings,
		Consensus: s.Consensus,
		Degraded:  degraded,
	}
	v := o.deps.Verdicts.Generate(in)

	if err := o.deps.Store.CreateVerdict(ctx, &v); err != nil {
		return fmt.Errorf("persisting verdict: %w", err)
	}
	if !degraded {
		o.deps.Verdicts.RecordPrecedent(v, in)
	}

	s.Verdict = &v
	s.State = models.SessionVerdictIssued
	recordStage(s, StageVerdict, started, 1)

	if o.deps.Archive != nil {
		archStarted := time.Now().UTC()
		if err := o.deps.Archive.ArchiveVerdict(ctx, &v); err != nil {
			log.Warn().Err(err).Str("verdict", v.ID).Msg("Verdict archival failed")
		} else {
			recordStage(s, StageArchival, archStarted, 1)
		}
	}

	o.mu.Lock()
	rev := o.reviews[s.ID]
	delete(o.reviews, s.ID)
	o.mu.Unlock()
	if rev != nil {
		if err := o.resolveReview(ctx, s, rev, v); err != nil {
			return err
		}
	}

	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("recording verdict: %w", err)
	}
	o.publish(ctx, notify.EventVerdictIssued, s, map[string]interface{}{
		"verdict_id": v.ID,
		"outcome":    string(v.Outcome),
		"confidence": v.Confidence,
		"degraded":   v.Degraded,
	})
	return nil
}

// ── Appeals ─────────────────────────────────────────────────

// SubmitAppeal contests a session's verdict and immediately re-opens
// evaluation at review level 1. New evidence is merged into the violation
// before the rules re-run.
func (o *Orchestrator) SubmitAppeal(ctx context.Context, sessionID, appellant, grounds string, newEvidence map[string]interface{}) (models.Appeal, error) {
	ctx, span := tracer.Start(ctx, "arbitration.submit_appeal")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("appellant", appellant))

	defer o.lockSession(sessionID)()
	s, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return models.Appeal{}, err
	}
	if s.State != models.SessionVerdictIssued {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrInvalidState, s.State)
	}
	if s.AppealID != "" {
		return models.Appeal{}, fmt.Errorf("%w: session %s already under appeal %s", ErrInvalidState, s.ID, s.AppealID)
	}

	a, err := o.deps.Appeals.Submit(sessionID, appellant, grounds, newEvidence)
	if err != nil {
		return models.Appeal{}, err
	}

	s.AppealID = a.ID
	s.AppealLevel = 1
	o.publish(ctx, notify.EventAppealSubmitted, s, map[string]interface{}{
		"appeal_id": a.ID,
		"appellant": appellant,
		"level":     1,
	})

	if err := o.runReview(ctx, s, a.ID, 1, newEvidence); err != nil {
		return models.Appeal{}, err
	}
	return o.deps.Appeals.Get(a.ID)
}

// EscalateAppeal opens the next review level with its stricter consensus
// algorithm. The prior level must have reached a terminal outcome; past the
// cap the last verdict stands and the session closes.
func (o *Orchestrator) EscalateAppeal(ctx context.Context, sessionID, reason string) (models.Appeal, error) {
	ctx, span := tracer.Start(ctx, "arbitration.escalate_appeal")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	defer o.lockSession(sessionID)()
	s, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return models.Appeal{}, err
	}
	if s.State != models.SessionVerdictIssued || s.AppealID == "" {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrInvalidState, s.State)
	}

	a, err := o.deps.Appeals.Escalate(s.AppealID, reason)
	if err != nil {
		if errors.Is(err, appeal.ErrMaxLevelExceeded) {
			// The last verdict stands.
			if _, accErr := o.deps.Appeals.Accept(s.AppealID); accErr != nil {
				log.Warn().Err(accErr).Str("appeal", s.AppealID).Msg("Appeal acceptance failed")
			}
			if closeErr := o.close(ctx, s); closeErr != nil {
				return models.Appeal{}, closeErr
			}
		}
		return models.Appeal{}, err
	}

	s.AppealLevel = a.Level
	o.publish(ctx, notify.EventAppealEscalated, s, map[string]interface{}{
		"appeal_id": a.ID,
		"level":     a.Level,
	})

	if err := o.runReview(ctx, s, a.ID, a.Level, nil); err != nil {
		return models.Appeal{}, err
	}
	return o.deps.Appeals.Get(a.ID)
}

// runReview re-opens evaluation for an appeal level. The level's consensus
// algorithm governs any debate the re-evaluation convenes.
func (o *Orchestrator) runReview(ctx context.Context, s *models.ArbitrationSession, appealID string, level int, newEvidence map[string]interface{}) error {
	started := time.Now().UTC()
	s.State = models.SessionAppealed

	if len(newEvidence) > 0 {
		if s.Violation.Evidence == nil {
			s.Violation.Evidence = make(map[string]interface{}, len(newEvidence))
		}
		for k, val := range newEvidence {
			s.Violation.Evidence[k] = val
		}
	}

	var prior models.VerdictOutcome
	if s.Verdict != nil {
		prior = s.Verdict.Outcome
	}
	o.mu.Lock()
	o.reviews[s.ID] = &review{appealID: appealID, level: level, priorOutcome: prior}
	o.mu.Unlock()

	recordStage(s, fmt.Sprintf("%s_l%d", StageAppeal, level), started, 1)
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("recording appeal: %w", err)
	}

	algorithm := models.AlgorithmForLevel(level, o.cfg.MaxAppealLevel)
	return o.evaluate(ctx, s, algorithm)
}

// resolveReview compares the review verdict with the outcome it contested.
// A changed outcome overturns the prior verdict and closes the session; an
// unchanged one affirms the level, leaving escalation to the appellant
// below the cap.
func (o *Orchestrator) resolveReview(ctx context.Context, s *models.ArbitrationSession, rev *review, v models.Verdict) error {
	outcome := models.AppealAffirmed
	if v.Outcome != rev.priorOutcome {
		outcome = models.AppealOverturned
	}
	a, err := o.deps.Appeals.ResolveLevel(rev.appealID, outcome)
	if err != nil {
		return fmt.Errorf("resolving appeal level: %w", err)
	}

	log.Info().
		Str("session", s.ID).
		Str("appeal", rev.appealID).
		Int("level", rev.level).
		Str("outcome", string(outcome)).
		Msg("Appeal review resolved")

	if a.Outcome != models.AppealPending {
		// Overturned, or affirmed at the cap: the dispute is settled.
		return o.close(ctx, s)
	}
	return nil
}

// ── Closing ─────────────────────────────────────────────────

// Close finalizes a session whose verdict was accepted. Any appeal still
// open below the cap is accepted along with it.
func (o *Orchestrator) Close(ctx context.Context, sessionID string) (models.ArbitrationSession, error) {
	ctx, span := tracer.Start(ctx, "arbitration.close")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	defer o.lockSession(sessionID)()
	s, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return models.ArbitrationSession{}, err
	}
	if s.State != models.SessionVerdictIssued {
		return models.ArbitrationSession{}, fmt.Errorf("%w: %s", ErrInvalidState, s.State)
	}
	o.mu.Lock()
	_, reviewing := o.reviews[sessionID]
	o.mu.Unlock()
	if reviewing {
		return models.ArbitrationSession{}, fmt.Errorf("%w: %s", ErrReviewInFlight, sessionID)
	}

	if s.AppealID != "" {
		if _, err := o.deps.Appeals.Accept(s.AppealID); err != nil && !errors.Is(err, appeal.ErrAppealClosed) {
			log.Warn().Err(err).Str("appeal", s.AppealID).Msg("Appeal acceptance failed")
		}
	}
	if err := o.close(ctx, s); err != nil {
		return models.ArbitrationSession{}, err
	}
	return *s, nil
}

// close marks the session terminal and persists it. Archival to the durable
// store is the janitor's job; closing only freezes the record.
func (o *Orchestrator) close(ctx context.Context, s *models.ArbitrationSession) error {
	now := time.Now().UTC()
	s.State = models.SessionClosed
	s.ClosedAt = &now
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	o.releaseLock(s.ID)
	log.Info().Str("session", s.ID).Msg("Arbitration session closed")
	return nil
}

// Cancel withdraws a session at any non-terminal, pre-verdict state. An
// outstanding debate is released; the cancellation is a distinct terminal
// outcome, retained for audit.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID, reason string) (models.ArbitrationSession, error) {
	ctx, span := tracer.Start(ctx, "arbitration.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	defer o.lockSession(sessionID)()
	s, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return models.ArbitrationSession{}, err
	}
	if s.State.Terminal() || s.State == models.SessionVerdictIssued {
		return models.ArbitrationSession{}, fmt.Errorf("%w: %s", ErrInvalidState, s.State)
	}

	o.mu.Lock()
	debateID, hasDebate := o.debates[sessionID]
	delete(o.debates, sessionID)
	delete(o.reviews, sessionID)
	o.mu.Unlock()
	if hasDebate {
		if err := o.deps.Debate.Abandon(debateID); err != nil {
			log.Warn().Err(err).Str("debate", debateID).Msg("Debate release failed")
		}
	}

	started := time.Now().UTC()
	now := started
	s.State = models.SessionCancelled
	s.ClosedAt = &now
	recordStage(s, StageCancel, started, 1)
	if err := o.deps.Store.UpdateSession(ctx, s); err != nil {
		return models.ArbitrationSession{}, fmt.Errorf("cancelling session: %w", err)
	}

	o.releaseLock(s.ID)
	log.Info().Str("session", s.ID).Str("reason", reason).Msg("Arbitration session cancelled")
	o.publish(ctx, notify.EventSessionCancelled, s, map[string]interface{}{
		"reason": reason,
	})
	return *s, nil
}

// ── Helpers ─────────────────────────────────────────────────

func (o *Orchestrator) loadSession(ctx context.Context, id string) (*models.ArbitrationSession, error) {
	s, err := o.deps.Store.GetSession(ctx, id)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return s, nil
}

func (o *Orchestrator) publish(ctx context.Context, t notify.EventType, s *models.ArbitrationSession, payload map[string]interface{}) {
	if o.deps.Publisher == nil {
		return
	}
	o.deps.Publisher.Publish(ctx, notify.NewEvent(t, s.ID, s.Violation.ID, s.Violation.Subject, payload))
}

func recordStage(s *models.ArbitrationSession, stage string, started time.Time, attempts int) {
	now := time.Now().UTC()
	s.Stages = append(s.Stages, models.StageMetric{
		Stage:      stage,
		Duration:   now.Sub(started),
		Attempts:   attempts,
		StartedAt:  started,
		FinishedAt: now,
	})
}
