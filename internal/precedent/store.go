// Package precedent indexes past verdicts for similarity lookup, so new
// verdicts can cite how comparable disputes were settled.
package precedent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrPrecedentNotFound is returned when citing an unknown precedent.
var ErrPrecedentNotFound = errors.New("precedent: not found")

// Store is the append-only precedent index. Citation count is the only
// field that changes after a precedent is recorded.
type Store struct {
	mu         sync.RWMutex
	precedents map[string]*models.Precedent
	now        func() time.Time
}

// NewStore creates an empty precedent store.
func NewStore() *Store {
	return &Store{
		precedents: make(map[string]*models.Precedent),
		now:        time.Now,
	}
}

// Record indexes a verdict's reasoning as a precedent, unless a
// near-duplicate already exists for the same rule + category combination —
// in that case the existing precedent is returned unchanged.
func (s *Store) Record(v models.Verdict, tags []string) models.Precedent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.nearDuplicateLocked(v.RuleCitations, tags); existing != nil {
		return *existing
	}

	summary := ""
	if len(v.Reasoning) > 0 {
		summary = v.Reasoning[0]
	}
	p := &models.Precedent{
		ID:         uuid.New().String(),
		VerdictID:  v.ID,
		Summary:    summary,
		RuleIDs:    append([]string(nil), v.RuleCitations...),
		Tags:       append([]string(nil), tags...),
		RecordedAt: s.now().UTC(),
	}
	s.precedents[p.ID] = p

	log.Info().
		Str("precedent", p.ID).
		Str("verdict", v.ID).
		Strs("tags", tags).
		Msg("Precedent recorded")

	return *p
}

// nearDuplicateLocked finds a precedent covering the same rules and tags.
func (s *Store) nearDuplicateLocked(ruleIDs, tags []string) *models.Precedent {
	for _, p := range s.precedents {
		if sameSet(p.RuleIDs, ruleIDs) && sameSet(p.Tags, tags) {
			return p
		}
	}
	return nil
}

// Find returns precedents matching at least one tag with the given minimum
// citation count, ranked by citation count then recency, capped at limit.
func (s *Store) Find(tags []string, minCitations int64, limit int) []models.Precedent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Precedent
	for _, p := range s.precedents {
		if p.CitationCount < minCitations {
			continue
		}
		if len(tags) > 0 && models.OverlapFraction(p.Tags, tags) == 0 {
			continue
		}
		out = append(out, *p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CitationCount != out[j].CitationCount {
			return out[i].CitationCount > out[j].CitationCount
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopSimilar ranks precedents by tag/category overlap with the given tags
// and returns the k best matches. Used by the verdict generator.
func (s *Store) TopSimilar(tags []string, k int) []models.Precedent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		p       models.Precedent
		overlap float64
	}
	var matches []scored
	for _, p := range s.precedents {
		ov := models.OverlapFraction(p.Tags, tags)
		if ov > 0 {
			matches = append(matches, scored{*p, ov})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].overlap != matches[j].overlap {
			return matches[i].overlap > matches[j].overlap
		}
		return matches[i].p.CitationCount > matches[j].p.CitationCount
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	out := make([]models.Precedent, len(matches))
	for i, m := range matches {
		out[i] = m.p
	}
	return out
}

// Cite increments a precedent's citation count — the one permitted mutation.
func (s *Store) Cite(id string) (models.Precedent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.precedents[id]
	if !ok {
		return models.Precedent{}, fmt.Errorf("%w: %s", ErrPrecedentNotFound, id)
	}
	p.CitationCount++
	return *p, nil
}

// Get fetches one precedent by id.
func (s *Store) Get(id string) (models.Precedent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.precedents[id]
	if !ok {
		return models.Precedent{}, fmt.Errorf("%w: %s", ErrPrecedentNotFound, id)
	}
	return *p, nil
}

// sameSet compares two string slices as unordered sets.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
