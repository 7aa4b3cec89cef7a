// Package models defines the shared data model for the Arbiter governance
// core: agent records and routing, constitutional rules and findings,
// arbitration sessions, verdicts, waivers, precedents, appeals, and debate
// sessions with their consensus results.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ── Agent Registry ───────────────────────────────────────────

// AgentCapabilities declares what kinds of work an agent can take on.
type AgentCapabilities struct {
	TaskTypes       []string `json:"task_types"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

// PerformanceHistory holds running statistics over an agent's completed tasks.
// Rates are bounded in [0,1]; TaskCount is monotonic.
type PerformanceHistory struct {
	SuccessRate float64 `json:"success_rate"`
	AvgQuality  float64 `json:"avg_quality"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	TaskCount   int64   `json:"task_count"`
}

// CurrentLoad tracks what the agent is doing right now.
type CurrentLoad struct {
	ActiveTasks    int     `json:"active_tasks"`
	QueuedTasks    int     `json:"queued_tasks"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// AgentRecord is the registry's view of a single agent. Records are
// handed out as immutable snapshots: the registry replaces the whole record
// on write and returns copies, never shared mutable state.
type AgentRecord struct {
	ID           string             `json:"id"`
	Capabilities AgentCapabilities  `json:"capabilities"`
	Performance  PerformanceHistory `json:"performance"`
	Load         CurrentLoad        `json:"load"`
	Archived     bool               `json:"archived,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
	LastActive   time.Time          `json:"last_active"`
}

// OutcomeMetrics is the completion event reported by the execution layer.
type OutcomeMetrics struct {
	Success      bool    `json:"success"`
	QualityScore float64 `json:"quality_score"`
	LatencyMs    float64 `json:"latency_ms"`
}

// ── Routing ──────────────────────────────────────────────────

// RoutingQuery filters registry candidates for a task. TaskType is
// mandatory; everything else narrows the candidate set.
type RoutingQuery struct {
	TaskType        string   `json:"task_type"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
	MaxUtilization  *float64 `json:"max_utilization,omitempty"`
	MinSuccessRate  *float64 `json:"min_success_rate,omitempty"`
}

// RoutingCandidate is one ranked registry match.
type RoutingCandidate struct {
	Agent         AgentRecord `json:"agent"`
	MatchScore    float64     `json:"match_score"`
	Justification string      `json:"justification"`
}

// RoutingResult is the selector's decision, exposed to the execution layer.
// Ephemeral — never persisted.
type RoutingResult struct {
	AgentID       string  `json:"agent_id"`
	Score         float64 `json:"score"`
	Exploration   float64 `json:"exploration_bonus"`
	Justification string  `json:"justification"`
}

// ── Constitutional Rules ─────────────────────────────────────

// Severity grades how serious a rule or violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for threshold comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityMinor:
		return 1
	case SeverityMajor:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

// ConstitutionalRule is one versioned rule of the constitution. Rules are
// never mutated in place — a change produces a new version and the old one
// is retained so precedents keep citing what was actually applied.
type ConstitutionalRule struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Category  string    `json:"category"`
	Condition string    `json:"condition"` // expr predicate over violation evidence
	Severity  Severity  `json:"severity"`
	Citation  string    `json:"citation"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionedID returns the id citation lists use, e.g. "rule-7@3".
func (r ConstitutionalRule) VersionedID() string {
	return fmt.Sprintf("%s@%d", r.ID, r.Version)
}

// Violation is a reported breach, immutable once filed.
type Violation struct {
	ID           string                 `json:"id"`
	Subject      string                 `json:"subject"` // agent or task id
	RuleIDs      []string               `json:"rule_ids,omitempty"`
	Evidence     map[string]interface{} `json:"evidence"`
	EvidenceRefs []string               `json:"evidence_refs,omitempty"`
	Severity     Severity               `json:"severity"`
	ReportedBy   string                 `json:"reported_by"`
	ReportedAt   time.Time              `json:"reported_at"`
}

// FindingStatus is the rule engine's judgment for a single rule.
type FindingStatus string

const (
	FindingSatisfied     FindingStatus = "satisfied"
	FindingViolated      FindingStatus = "violated"
	FindingIndeterminate FindingStatus = "indeterminate"
)

// Finding is the evaluation of one rule against one violation's evidence.
// Findings form a set; evaluation order carries no meaning.
type Finding struct {
	RuleID      string        `json:"rule_id"`
	RuleVersion int           `json:"rule_version"`
	Status      FindingStatus `json:"status"`
	Severity    Severity      `json:"severity"`
	Detail      string        `json:"detail,omitempty"`
	Evidenced   bool          `json:"evidenced"` // backed by concrete evidence refs
}

// ── Arbitration Sessions ─────────────────────────────────────

// SessionState is the orchestrator's state machine position.
type SessionState string

const (
	SessionOpened          SessionState = "opened"
	SessionRulesEvaluated  SessionState = "rules_evaluated"
	SessionDebateRequested SessionState = "debate_requested"
	SessionDebateResolved  SessionState = "debate_resolved"
	SessionVerdictIssued   SessionState = "verdict_issued"
	SessionAppealed        SessionState = "appealed"
	SessionClosed          SessionState = "closed"
	SessionCancelled       SessionState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionCancelled
}

// StageMetric records how long one orchestration stage took.
type StageMetric struct {
	Stage      string        `json:"stage"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ArbitrationSession is the bounded lifecycle from violation report to a
// closed (possibly appealed) verdict. Owned by the orchestrator; one live
// session per violation. Terminal sessions are retained for audit and
// precedent mining.
type ArbitrationSession struct {
	ID           string               `json:"id"`
	Violation    Violation            `json:"violation"`
	Rules        []ConstitutionalRule `json:"rules"`
	Participants []string             `json:"participants"`
	State        SessionState         `json:"state"`
	Findings     []Finding            `json:"findings,omitempty"`
	Consensus    *ConsensusResult     `json:"consensus,omitempty"`
	Verdict      *Verdict             `json:"verdict,omitempty"`
	AppealID     string               `json:"appeal_id,omitempty"`
	AppealLevel  int                  `json:"appeal_level"`
	Stages       []StageMetric        `json:"stages,omitempty"`
	OpenedAt     time.Time            `json:"opened_at"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
}

// ── Verdicts ─────────────────────────────────────────────────

// VerdictOutcome is the final disposition of an evaluation stage.
type VerdictOutcome string

const (
	VerdictUpheld    VerdictOutcome = "upheld"
	VerdictDismissed VerdictOutcome = "dismissed"
	VerdictModified  VerdictOutcome = "modified"
)

// Verdict is the immutable, signed decision that closes an evaluation
// stage. Every verdict cites at least one rule or precedent.
type Verdict struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	Outcome       VerdictOutcome `json:"outcome"`
	Confidence    float64        `json:"confidence"` // [0,1]
	Reasoning     []string       `json:"reasoning"`  // ordered justifications
	RuleCitations []string       `json:"rule_citations,omitempty"`
	PrecedentIDs  []string       `json:"precedent_ids,omitempty"`
	Authority     string         `json:"authority"`
	Degraded      bool           `json:"degraded,omitempty"` // generated under degraded conditions
	Signature     string         `json:"signature"`
	IssuedAt      time.Time      `json:"issued_at"`
}

// ContentHash computes the tamper-evident signature over every field that
// carries decision content. The signature field itself is excluded.
func (v Verdict) ContentHash() string {
	shadow := v
	shadow.Signature = ""
	raw, _ := json.Marshal(shadow)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CitesAnything reports whether the verdict carries at least one citation.
func (v Verdict) CitesAnything() bool {
	return len(v.RuleCitations) > 0 || len(v.PrecedentIDs) > 0
}

// ── Waivers ──────────────────────────────────────────────────

// WaiverStatus transitions: pending → active → expired | revoked,
// or pending → rejected.
type WaiverStatus string

const (
	WaiverPending  WaiverStatus = "pending"
	WaiverActive   WaiverStatus = "active"
	WaiverRejected WaiverStatus = "rejected"
	WaiverExpired  WaiverStatus = "expired"
	WaiverRevoked  WaiverStatus = "revoked"
)

// Waiver is a time-boxed exception to a constitutional rule.
type Waiver struct {
	ID            string        `json:"id"`
	RuleID        string        `json:"rule_id"`
	Subject       string        `json:"subject"` // agent/task the waiver covers
	Requester     string        `json:"requester"`
	Justification string        `json:"justification"`
	EvidenceRefs  []string      `json:"evidence_refs,omitempty"`
	Duration      time.Duration `json:"requested_duration"`
	Status        WaiverStatus  `json:"status"`
	Approver      string        `json:"approver,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	ActivatedAt   *time.Time    `json:"activated_at,omitempty"`
}

// ExpiresAt is the computed expiry; zero until the waiver is activated.
func (w Waiver) ExpiresAt() time.Time {
	if w.ActivatedAt == nil {
		return time.Time{}
	}
	return w.ActivatedAt.Add(w.Duration)
}

// ExpiredBy reports whether an active waiver's window has elapsed at now.
func (w Waiver) ExpiredBy(now time.Time) bool {
	if w.Status != WaiverActive {
		return false
	}
	return !now.Before(w.ExpiresAt())
}

// WaiverDecision is what the manager returns (and notifies) on evaluation.
type WaiverDecision struct {
	WaiverID string       `json:"waiver_id"`
	Status   WaiverStatus `json:"status"`
	Reason   string       `json:"reason,omitempty"`
}

// ── Precedents ───────────────────────────────────────────────

// Precedent is a past verdict's reasoning, retrievable for citation.
// Append-only; CitationCount is the only field that changes after creation.
type Precedent struct {
	ID            string    `json:"id"`
	VerdictID     string    `json:"verdict_id"`
	Summary       string    `json:"summary"`
	RuleIDs       []string  `json:"rule_ids"`
	Tags          []string  `json:"tags"`
	CitationCount int64     `json:"citation_count"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// ── Appeals ──────────────────────────────────────────────────

// AppealOutcome is the disposition of a single appeal level.
type AppealOutcome string

const (
	AppealPending    AppealOutcome = "pending"
	AppealOverturned AppealOutcome = "overturned"
	AppealAffirmed   AppealOutcome = "affirmed"
	AppealEscalated  AppealOutcome = "escalated"
)

// AppealReview is one level's linked sub-review.
type AppealReview struct {
	Level     int                `json:"level"`
	Reason    string             `json:"reason"`
	Algorithm ConsensusAlgorithm `json:"algorithm"`
	Outcome   AppealOutcome      `json:"outcome"`
	OpenedAt  time.Time          `json:"opened_at"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty"`
}

// Appeal escalates a contested verdict through review levels. Level is
// strictly increasing and bounded by the configured maximum.
type Appeal struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Appellant   string                 `json:"appellant"`
	Grounds     string                 `json:"grounds"`
	NewEvidence map[string]interface{} `json:"new_evidence,omitempty"`
	Level       int                    `json:"level"`
	Reviews     []AppealReview         `json:"reviews"`
	Outcome     AppealOutcome          `json:"outcome"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

// ── Debate & Consensus ───────────────────────────────────────

// DebateRole is a participant's function in the round.
type DebateRole string

const (
	RoleProponent DebateRole = "proponent"
	RoleOpponent  DebateRole = "opponent"
	RoleModerator DebateRole = "moderator"
	RoleReviewer  DebateRole = "reviewer"
)

// Participant is one agent seated in a debate.
type Participant struct {
	AgentID string     `json:"agent_id"`
	Role    DebateRole `json:"role"`
	Weight  float64    `json:"weight"`
}

// Argument is a claim submitted into the debate log.
type Argument struct {
	Seq          int64     `json:"seq"`
	AgentID      string    `json:"agent_id"`
	Claim        string    `json:"claim"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	Confidence   float64   `json:"confidence"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Vote is a participant's position. Resubmission overwrites the prior vote
// until consensus is finalized, after which the vote set is frozen.
type Vote struct {
	Seq        int64     `json:"seq"`
	AgentID    string    `json:"agent_id"`
	Position   string    `json:"position"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	CastAt     time.Time `json:"cast_at"`
}

// ConsensusAlgorithm selects how votes aggregate into an outcome.
type ConsensusAlgorithm string

const (
	SimpleMajority ConsensusAlgorithm = "simple-majority"
	WeightedVoting ConsensusAlgorithm = "weighted-voting"
	Unanimous      ConsensusAlgorithm = "unanimous"
)

// AlgorithmForLevel returns the consensus algorithm an appeal level uses:
// stricter algorithms at higher levels, unanimity at the cap.
func AlgorithmForLevel(level, maxLevel int) ConsensusAlgorithm {
	switch {
	case level >= maxLevel:
		return Unanimous
	case level >= 2:
		return WeightedVoting
	default:
		return SimpleMajority
	}
}

// DebateState tracks a debate session's lifecycle.
type DebateState string

const (
	DebateOpen      DebateState = "open"
	DebateFinalized DebateState = "finalized"
	DebateAbandoned DebateState = "abandoned"
)

// DebateSession is one structured argumentation round. Escalation creates
// a new session, never mutates an old one.
type DebateSession struct {
	ID           string             `json:"id"`
	Topic        string             `json:"topic"`
	Participants []Participant      `json:"participants"`
	Arguments    []Argument         `json:"arguments"`
	Votes        []Vote             `json:"votes"`
	Algorithm    ConsensusAlgorithm `json:"algorithm"`
	MaxDuration  time.Duration      `json:"max_duration"`
	State        DebateState        `json:"state"`
	StartedAt    time.Time          `json:"started_at"`
}

// NoConsensus is the outcome when votes fail to produce a winner.
const NoConsensus = "no-consensus"

// Dissent summarizes a position that lost.
type Dissent struct {
	Position string   `json:"position"`
	Voters   []string `json:"voters"`
	Weight   float64  `json:"weight"`
}

// ConsensusResult is derived from a debate session at finalization and is
// immutable thereafter.
type ConsensusResult struct {
	SessionID  string             `json:"session_id"`
	Outcome    string             `json:"outcome"` // winning position or NoConsensus
	Confidence float64            `json:"confidence"`
	Dissents   []Dissent          `json:"dissents,omitempty"`
	Algorithm  ConsensusAlgorithm `json:"algorithm"`
	VoteCount  int                `json:"vote_count"`
	Forced     bool               `json:"forced,omitempty"` // finalized at deadline
	ComputedAt time.Time          `json:"computed_at"`
}

// Reached reports whether the debate produced a usable outcome.
func (c ConsensusResult) Reached() bool {
	return c.Outcome != "" && c.Outcome != NoConsensus
}

// ── Notification Channels ────────────────────────────────────

// ChannelKind identifies a notification transport.
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
)

// NotificationChannel is a registered outbound notification target.
type NotificationChannel struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Kind      ChannelKind            `json:"kind"`
	URL       string                 `json:"url"`
	Secret    string                 `json:"secret,omitempty"` // HMAC signing secret
	Events    []string               `json:"events,omitempty"` // empty = all events
	Active    bool                   `json:"active"`
	Config    map[string]interface{} `json:"config,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NotifyResult records the outcome of one dispatch attempt.
type NotifyResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Helpers ──────────────────────────────────────────────────

// OverlapFraction returns |have ∩ want| / |want|, comparing case-insensitively.
// An empty want yields 0 so callers can skip un-supplied criteria.
func OverlapFraction(have, want []string) float64 {
	if len(want) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = struct{}{}
	}
	hits := 0
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// ContainsFold reports whether list contains s, case-insensitively.
func ContainsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
