// Package handlers implements the HTTP handlers for the governance core.
// Handlers are thin: they decode, delegate to the domain packages, and map
// domain errors onto status codes. No governance decision lives here.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/internal/appeal"
	"github.com/arbiterhq/arbiter/governance-core/internal/arbitration"
	"github.com/arbiterhq/arbiter/governance-core/internal/debate"
	"github.com/arbiterhq/arbiter/governance-core/internal/notify"
	"github.com/arbiterhq/arbiter/governance-core/internal/precedent"
	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/internal/selector"
	"github.com/arbiterhq/arbiter/governance-core/internal/store"
	"github.com/arbiterhq/arbiter/governance-core/internal/waiver"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Archive      store.Archiver
	Registry     *registry.Registry
	Selector     *selector.Selector
	Orchestrator *arbitration.Orchestrator
	Debate       *debate.Engine
	Waivers      *waiver.Manager
	Appeals      *appeal.Handler
	Precedents   *precedent.Store
	Notify       *notify.Service
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type registerAgentRequest struct {
	ID           string                   `json:"id"`
	Capabilities models.AgentCapabilities `json:"capabilities"`
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "Agent id is required")
		return
	}

	rec, err := h.Registry.Register(req.ID, req.Capabilities)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDuplicateAgent):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, registry.ErrCapacityExceeded):
			respondError(w, http.StatusInsufficientStorage, err.Error())
		case errors.Is(err, registry.ErrInvalidAgent):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.Registry.List()
	if agents == nil {
		agents = []models.AgentRecord{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Registry.Get(chi.URLParam(r, "agentID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) QueryAgents(w http.ResponseWriter, r *http.Request) {
	var q models.RoutingQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if q.TaskType == "" {
		respondError(w, http.StatusBadRequest, "task_type is required")
		return
	}
	candidates := h.Registry.Query(q)
	if candidates == nil {
		candidates = []models.RoutingCandidate{}
	}
	respondJSON(w, http.StatusOK, candidates)
}

func (h *Handlers) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var m models.OutcomeMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec, err := h.Registry.RecordOutcome(chi.URLParam(r, "agentID"), m)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type loadRequest struct {
	ActiveDelta int `json:"active_delta"`
	QueuedDelta int `json:"queued_delta"`
}

func (h *Handlers) UpdateLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec, err := h.Registry.UpdateLoad(chi.URLParam(r, "agentID"), req.ActiveDelta, req.QueuedDelta)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ══════════════════════════════════════════════════════════════
// ── Routing ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	var q models.RoutingQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if q.TaskType == "" {
		respondError(w, http.StatusBadRequest, "task_type is required")
		return
	}

	result, err := h.Selector.Select(q)
	if err != nil {
		if errors.Is(err, selector.ErrNoCandidates) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Rule Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) PutRule(w http.ResponseWriter, r *http.Request) {
	var rule models.ConstitutionalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if rule.ID == "" || rule.Condition == "" {
		respondError(w, http.StatusBadRequest, "Rule id and condition are required")
		return
	}
	if err := h.Store.PutRule(r.Context(), &rule); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("rule", rule.ID).Int("version", rule.Version).Msg("Rule version recorded")
	respondJSON(w, http.StatusCreated, rule)
}

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []models.ConstitutionalRule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid version")
			return
		}
		rule, err := h.Store.GetRuleVersion(r.Context(), id, version)
		if err != nil {
			respondNotFoundOr500(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rule)
		return
	}

	rule, err := h.Store.GetRule(r.Context(), id)
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// ══════════════════════════════════════════════════════════════
// ── Violation / Session Handlers ─────────────────────────────
// ══════════════════════════════════════════════════════════════

type reportViolationRequest struct {
	Subject      string                 `json:"subject"`
	RuleIDs      []string               `json:"rule_ids,omitempty"`
	Evidence     map[string]interface{} `json:"evidence"`
	EvidenceRefs []string               `json:"evidence_refs,omitempty"`
	Severity     models.Severity        `json:"severity"`
	ReportedBy   string                 `json:"reported_by"`
	Participants []string               `json:"participants,omitempty"`
}

func (h *Handlers) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req reportViolationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Subject == "" || req.ReportedBy == "" {
		respondError(w, http.StatusBadRequest, "subject and reported_by are required")
		return
	}

	v := models.Violation{
		Subject:      req.Subject,
		RuleIDs:      req.RuleIDs,
		Evidence:     req.Evidence,
		EvidenceRefs: req.EvidenceRefs,
		Severity:     req.Severity,
		ReportedBy:   req.ReportedBy,
		ReportedAt:   time.Now().UTC(),
	}
	s, err := h.Orchestrator.Open(r.Context(), v, req.Participants)
	if err != nil {
		if errors.Is(err, arbitration.ErrViolationInFlight) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, arbitration.ErrEmptyConstitution) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	state := models.SessionState(r.URL.Query().Get("state"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.Store.ListSessions(r.Context(), state, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.ArbitrationSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	// Body is optional; a missing reason is fine.
	_ = json.NewDecoder(r.Body).Decode(&req)
	s, err := h.Orchestrator.Cancel(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orchestrator.Close(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// ══════════════════════════════════════════════════════════════
// ── Debate Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type argumentRequest struct {
	AgentID      string   `json:"agent_id"`
	Claim        string   `json:"claim"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
	Confidence   float64  `json:"confidence"`
}

func (h *Handlers) SubmitArgument(w http.ResponseWriter, r *http.Request) {
	debateID, ok := h.Orchestrator.DebateID(chi.URLParam(r, "sessionID"))
	if !ok {
		respondError(w, http.StatusNotFound, "no debate in flight for session")
		return
	}
	var req argumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Debate.SubmitArgument(debateID, req.AgentID, req.Claim, req.EvidenceRefs, req.Confidence); err != nil {
		respondDebateError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type voteRequest struct {
	AgentID    string  `json:"agent_id"`
	Position   string  `json:"position"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

func (h *Handlers) SubmitVote(w http.ResponseWriter, r *http.Request) {
	debateID, ok := h.Orchestrator.DebateID(chi.URLParam(r, "sessionID"))
	if !ok {
		respondError(w, http.StatusNotFound, "no debate in flight for session")
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Debate.SubmitVote(debateID, req.AgentID, req.Position, req.Confidence, req.Reasoning); err != nil {
		respondDebateError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handlers) GetDebate(w http.ResponseWriter, r *http.Request) {
	debateID, ok := h.Orchestrator.DebateID(chi.URLParam(r, "sessionID"))
	if !ok {
		respondError(w, http.StatusNotFound, "no debate in flight for session")
		return
	}
	ds, err := h.Debate.Get(debateID)
	if err != nil {
		respondDebateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ds)
}

func (h *Handlers) CompleteDebate(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orchestrator.CompleteDebate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// ══════════════════════════════════════════════════════════════
// ── Verdict Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetVerdict(w http.ResponseWriter, r *http.Request) {
	v, err := h.Store.GetVerdict(r.Context(), chi.URLParam(r, "verdictID"))
	if err == nil {
		respondJSON(w, http.StatusOK, v)
		return
	}
	// Fall back to the archive: verdicts outlive their hot-store session.
	if h.Archive != nil {
		if av, archErr := h.Archive.FetchVerdict(r.Context(), chi.URLParam(r, "verdictID")); archErr == nil {
			respondJSON(w, http.StatusOK, av)
			return
		}
	}
	respondNotFoundOr500(w, err)
}

// GetVerdictByHash serves the provenance trail: verdicts fetched by their
// tamper-evident content hash.
func (h *Handlers) GetVerdictByHash(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		respondError(w, http.StatusNotImplemented, "no archive configured")
		return
	}
	v, err := h.Archive.FetchVerdictByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondNotFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *Handlers) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	verdicts, err := h.Store.ListVerdicts(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if verdicts == nil {
		verdicts = []models.Verdict{}
	}
	respondJSON(w, http.StatusOK, verdicts)
}

// ══════════════════════════════════════════════════════════════
// ── Precedent Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) FindPrecedents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minCitations, _ := strconv.ParseInt(q.Get("min_citations"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	precedents := h.Precedents.Find(q["tag"], minCitations, limit)
	if precedents == nil {
		precedents = []models.Precedent{}
	}
	respondJSON(w, http.StatusOK, precedents)
}

func (h *Handlers) GetPrecedent(w http.ResponseWriter, r *http.Request) {
	p, err := h.Precedents.Get(chi.URLParam(r, "precedentID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ══════════════════════════════════════════════════════════════
// ── Waiver Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type waiverRequest struct {
	RuleID        string   `json:"rule_id"`
	Subject       string   `json:"subject,omitempty"`
	Requester     string   `json:"requester"`
	Justification string   `json:"justification"`
	EvidenceRefs  []string `json:"evidence_refs,omitempty"`
	DurationSecs  int64    `json:"duration_seconds"`
}

func (h *Handlers) RequestWaiver(w http.ResponseWriter, r *http.Request) {
	var req waiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RuleID == "" || req.Requester == "" {
		respondError(w, http.StatusBadRequest, "rule_id and requester are required")
		return
	}

	decision, err := h.Waivers.Request(req.RuleID, req.Subject, req.Requester, req.Justification,
		req.EvidenceRefs, time.Duration(req.DurationSecs)*time.Second)
	if err != nil {
		if errors.Is(err, waiver.ErrRateLimited) {
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, decision)
}

type waiverDecisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handlers) DecideWaiver(w http.ResponseWriter, r *http.Request) {
	var req waiverDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "waiverID")
	var (
		decision models.WaiverDecision
		err      error
	)
	switch chi.URLParam(r, "action") {
	case "approve":
		decision, err = h.Waivers.Approve(id, req.Approver)
	case "reject":
		decision, err = h.Waivers.Reject(id, req.Approver, req.Reason)
	case "revoke":
		decision, err = h.Waivers.Revoke(id, req.Approver)
	default:
		respondError(w, http.StatusBadRequest, "Unknown waiver action")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, waiver.ErrWaiverNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, waiver.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	subject, ruleID := "", ""
	if wv, getErr := h.Waivers.Get(decision.WaiverID); getErr == nil {
		subject, ruleID = wv.Subject, wv.RuleID
	}
	h.Notify.Publish(r.Context(), notify.NewEvent(notify.EventWaiverDecided, "", "", subject,
		map[string]interface{}{
			"waiver_id": decision.WaiverID,
			"rule_id":   ruleID,
			"status":    string(decision.Status),
		}))
	respondJSON(w, http.StatusOK, decision)
}

func (h *Handlers) GetWaiver(w http.ResponseWriter, r *http.Request) {
	wv, err := h.Waivers.Get(chi.URLParam(r, "waiverID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wv)
}

func (h *Handlers) ListWaivers(w http.ResponseWriter, r *http.Request) {
	waivers := h.Waivers.List()
	if waivers == nil {
		waivers = []models.Waiver{}
	}
	respondJSON(w, http.StatusOK, waivers)
}

// ══════════════════════════════════════════════════════════════
// ── Appeal Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type appealRequest struct {
	Appellant   string                 `json:"appellant"`
	Grounds     string                 `json:"grounds"`
	NewEvidence map[string]interface{} `json:"new_evidence,omitempty"`
}

func (h *Handlers) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Appellant == "" || req.Grounds == "" {
		respondError(w, http.StatusBadRequest, "appellant and grounds are required")
		return
	}

	a, err := h.Orchestrator.SubmitAppeal(r.Context(), chi.URLParam(r, "sessionID"), req.Appellant, req.Grounds, req.NewEvidence)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) EscalateAppeal(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a, err := h.Orchestrator.EscalateAppeal(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		if errors.Is(err, appeal.ErrMaxLevelExceeded) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, appeal.ErrLevelOpen) || errors.Is(err, appeal.ErrAppealClosed) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handlers) GetAppeal(w http.ResponseWriter, r *http.Request) {
	a, err := h.Appeals.Get(chi.URLParam(r, "appealID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ══════════════════════════════════════════════════════════════
// ── Notification Channel Handlers ────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) AddChannel(w http.ResponseWriter, r *http.Request) {
	var ch models.NotificationChannel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if ch.Name == "" || ch.URL == "" {
		respondError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	respondJSON(w, http.StatusCreated, h.Notify.AddChannel(ch))
}

func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Notify.ListChannels())
}

func (h *Handlers) RemoveChannel(w http.ResponseWriter, r *http.Request) {
	if !h.Notify.RemoveChannel(chi.URLParam(r, "channelID")) {
		respondError(w, http.StatusNotFound, "channel not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondNotFoundOr500(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, arbitration.ErrSessionNotFound), errors.Is(err, arbitration.ErrNoDebate):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, arbitration.ErrInvalidState), errors.Is(err, arbitration.ErrReviewInFlight):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondNotFoundOr500(w, err)
	}
}

func respondDebateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, debate.ErrSessionNotFound), errors.Is(err, debate.ErrNotParticipant):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, debate.ErrSessionClosed), errors.Is(err, debate.ErrDurationExceeded):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
