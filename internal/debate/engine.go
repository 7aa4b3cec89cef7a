// Package debate implements the reasoning engine: structured multi-agent
// argumentation rounds that end in a voted consensus recommendation.
//
// Each session is an append-only log of arguments and votes, totally ordered
// by a per-session sequence number. Deadlines are measured against the
// monotonic clock so wall-clock adjustments never cut a debate short or let
// one overrun. Once consensus is formed the vote set is frozen; late
// arguments and votes are rejected, never silently merged.
package debate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInsufficientParticipants is returned when a debate is initiated
	// below the configured minimum seat count.
	ErrInsufficientParticipants = errors.New("debate: insufficient participants")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("debate: session not found")
	// ErrSessionClosed is returned for submissions after finalization.
	ErrSessionClosed = errors.New("debate: session closed")
	// ErrDurationExceeded is returned for submissions after the configured
	// max debate duration has elapsed.
	ErrDurationExceeded = errors.New("debate: max duration exceeded")
	// ErrNotParticipant is returned when a non-participant submits.
	ErrNotParticipant = errors.New("debate: agent is not a participant")
)

// DefaultMinParticipants is the minimum seat count for a debate.
const DefaultMinParticipants = 3

// Config tunes the engine.
type Config struct {
	MinParticipants int
	MaxDuration     time.Duration
}

// session pairs the public record with its monotonic start instant and its
// own lock — operations within one session are strictly ordered, sessions
// never contend with each other.
type session struct {
	mu      sync.Mutex
	rec     *models.DebateSession
	started time.Time // monotonic reading
	seq     int64
}

// Engine owns all live debate sessions.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session
	cfg      Config
}

// NewEngine creates a debate engine.
func NewEngine(cfg Config) *Engine {
	if cfg.MinParticipants <= 0 {
		cfg.MinParticipants = DefaultMinParticipants
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	return &Engine{
		sessions: make(map[string]*session),
		cfg:      cfg,
	}
}

// Initiate opens a debate round. Fails with ErrInsufficientParticipants
// below the configured minimum. maxDuration <= 0 uses the engine default.
func (e *Engine) Initiate(topic string, participants []models.Participant, algorithm models.ConsensusAlgorithm, maxDuration time.Duration) (models.DebateSession, error) {
	if len(participants) < e.cfg.MinParticipants {
		return models.DebateSession{}, fmt.Errorf("%w: %d seated, need %d",
			ErrInsufficientParticipants, len(participants), e.cfg.MinParticipants)
	}
	if maxDuration <= 0 {
		maxDuration = e.cfg.MaxDuration
	}
	if algorithm == "" {
		algorithm = models.SimpleMajority
	}

	now := time.Now()
	rec := &models.DebateSession{
		ID:           uuid.New().String(),
		Topic:        topic,
		Participants: append([]models.Participant(nil), participants...),
		Algorithm:    algorithm,
		MaxDuration:  maxDuration,
		State:        models.DebateOpen,
		StartedAt:    now.UTC(),
	}

	e.mu.Lock()
	e.sessions[rec.ID] = &session{rec: rec, started: now}
	e.mu.Unlock()

	log.Info().
		Str("session", rec.ID).
		Str("topic", topic).
		Int("participants", len(participants)).
		Str("algorithm", string(algorithm)).
		Msg("Debate initiated")

	return snapshot(rec), nil
}

// SubmitArgument appends a claim to the session's argument log.
func (e *Engine) SubmitArgument(sessionID, agentID, claim string, evidenceRefs []string, confidence float64) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}
	if !seated(s.rec, agentID) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, agentID)
	}

	s.seq++
	s.rec.Arguments = append(s.rec.Arguments, models.Argument{
		Seq:          s.seq,
		AgentID:      agentID,
		Claim:        claim,
		EvidenceRefs: append([]string(nil), evidenceRefs...),
		Confidence:   clamp01(confidence),
		SubmittedAt:  time.Now().UTC(),
	})
	return nil
}

// SubmitVote records a participant's position. One vote per participant per
// round; resubmission overwrites the prior vote until consensus is formed.
func (e *Engine) SubmitVote(sessionID, agentID, position string, confidence float64, reasoning string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}
	if !seated(s.rec, agentID) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, agentID)
	}

	s.seq++
	vote := models.Vote{
		Seq:        s.seq,
		AgentID:    agentID,
		Position:   position,
		Confidence: clamp01(confidence),
		Reasoning:  reasoning,
		CastAt:     time.Now().UTC(),
	}
	for i, prior := range s.rec.Votes {
		if prior.AgentID == agentID {
			s.rec.Votes[i] = vote
			return nil
		}
	}
	s.rec.Votes = append(s.rec.Votes, vote)
	return nil
}

// FormConsensus finalizes the round over the votes present right now and
// freezes the vote set. Late votes are rejected with ErrSessionClosed.
func (e *Engine) FormConsensus(sessionID string) (models.ConsensusResult, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return models.ConsensusResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.State != models.DebateOpen {
		return models.ConsensusResult{}, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	forced := time.Since(s.started) > s.rec.MaxDuration
	result := computeConsensus(s.rec, time.Now().UTC())
	result.Forced = forced
	s.rec.State = models.DebateFinalized

	log.Info().
		Str("session", sessionID).
		Str("outcome", result.Outcome).
		Float64("confidence", result.Confidence).
		Bool("forced", forced).
		Int("votes", result.VoteCount).
		Msg("Consensus formed")

	return result, nil
}

// Abandon releases an open debate without a result, e.g. when the owning
// arbitration session is cancelled. Recorded, not silently dropped.
func (e *Engine) Abandon(sessionID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.State != models.DebateOpen {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	s.rec.State = models.DebateAbandoned
	log.Info().Str("session", sessionID).Msg("Debate abandoned")
	return nil
}

// Get returns a snapshot of a session.
func (e *Engine) Get(sessionID string) (models.DebateSession, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return models.DebateSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.rec), nil
}

// Expired reports whether the session's deadline has elapsed on the
// monotonic clock.
func (e *Engine) Expired(sessionID string) (bool, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.started) > s.rec.MaxDuration, nil
}

func (e *Engine) lookup(id string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// acceptingLocked gates submissions: closed sessions and elapsed deadlines
// reject rather than merge.
func (s *session) acceptingLocked() error {
	if s.rec.State != models.DebateOpen {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.rec.ID)
	}
	if time.Since(s.started) > s.rec.MaxDuration {
		return fmt.Errorf("%w: %s after %s", ErrDurationExceeded, s.rec.ID, s.rec.MaxDuration)
	}
	return nil
}

func seated(rec *models.DebateSession, agentID string) bool {
	for _, p := range rec.Participants {
		if p.AgentID == agentID {
			return true
		}
	}
	return false
}

func snapshot(rec *models.DebateSession) models.DebateSession {
	out := *rec
	out.Participants = append([]models.Participant(nil), rec.Participants...)
	out.Arguments = append([]models.Argument(nil), rec.Arguments...)
	out.Votes = append([]models.Vote(nil), rec.Votes...)
	return out
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
