// Consensus algorithms are pure functions over a frozen vote set: the same
// votes and weights always produce the same result, regardless of the order
// votes arrived in.

package debate

import (
	"sort"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
)

// computeConsensus dispatches on the session's configured algorithm.
func computeConsensus(s *models.DebateSession, now time.Time) models.ConsensusResult {
	result := models.ConsensusResult{
		SessionID:  s.ID,
		Algorithm:  s.Algorithm,
		VoteCount:  len(s.Votes),
		ComputedAt: now,
	}

	if len(s.Votes) == 0 {
		result.Outcome = models.NoConsensus
		return result
	}

	switch s.Algorithm {
	case models.WeightedVoting:
		result.Outcome, result.Confidence = weightedVoting(s)
	case models.Unanimous:
		result.Outcome, result.Confidence = unanimous(s)
	default: // simple majority
		result.Outcome, result.Confidence = simpleMajority(s)
	}

	result.Dissents = dissents(s, result.Outcome)
	return result
}

// simpleMajority: the position with >50% of votes by count wins; a tie for
// the top yields no consensus.
func simpleMajority(s *models.DebateSession) (string, float64) {
	counts := make(map[string]int)
	confSum := make(map[string]float64)
	for _, v := range s.Votes {
		counts[v.Position]++
		confSum[v.Position] += v.Confidence
	}

	winner, best := "", 0
	tied := false
	for _, pos := range sortedPositions(counts) {
		n := counts[pos]
		if n > best {
			winner, best, tied = pos, n, false
		} else if n == best {
			tied = true
		}
	}

	if tied || best*2 <= len(s.Votes) {
		return models.NoConsensus, 0
	}
	return winner, confSum[winner] / float64(best)
}

// weightedVoting: the position with the highest Σ weight×confidence wins.
func weightedVoting(s *models.DebateSession) (string, float64) {
	weights := participantWeights(s)
	sums := make(map[string]float64)
	var total float64
	for _, v := range s.Votes {
		w := weights[v.AgentID] * v.Confidence
		sums[v.Position] += w
		total += w
	}

	winner, best := "", 0.0
	tied := false
	for _, pos := range sortedPositionsF(sums) {
		sum := sums[pos]
		if sum > best {
			winner, best, tied = pos, sum, false
		} else if sum == best {
			tied = true
		}
	}

	if tied || total == 0 {
		return models.NoConsensus, 0
	}
	return winner, best / total
}

// unanimous: 100% agreement or nothing — any dissent yields no consensus,
// regardless of participant weights.
func unanimous(s *models.DebateSession) (string, float64) {
	position := s.Votes[0].Position
	var confSum float64
	for _, v := range s.Votes {
		if v.Position != position {
			return models.NoConsensus, 0
		}
		confSum += v.Confidence
	}
	return position, confSum / float64(len(s.Votes))
}

// dissents summarizes every losing position with its voters and weight.
func dissents(s *models.DebateSession, winner string) []models.Dissent {
	if winner == models.NoConsensus {
		return nil
	}
	weights := participantWeights(s)
	byPos := make(map[string]*models.Dissent)
	for _, v := range s.Votes {
		if v.Position == winner {
			continue
		}
		d, ok := byPos[v.Position]
		if !ok {
			d = &models.Dissent{Position: v.Position}
			byPos[v.Position] = d
		}
		d.Voters = append(d.Voters, v.AgentID)
		d.Weight += weights[v.AgentID] * v.Confidence
	}

	positions := make([]string, 0, len(byPos))
	for pos := range byPos {
		positions = append(positions, pos)
	}
	sort.Strings(positions)

	out := make([]models.Dissent, 0, len(positions))
	for _, pos := range positions {
		out = append(out, *byPos[pos])
	}
	return out
}

// participantWeights indexes seat weights by agent id. Unknown voters weigh 1.
func participantWeights(s *models.DebateSession) map[string]float64 {
	weights := make(map[string]float64, len(s.Participants))
	for _, p := range s.Participants {
		w := p.Weight
		if w == 0 {
			w = 1
		}
		weights[p.AgentID] = w
	}
	for _, v := range s.Votes {
		if _, ok := weights[v.AgentID]; !ok {
			weights[v.AgentID] = 1
		}
	}
	return weights
}

// sortedPositions keeps winner selection deterministic when iterating maps.
func sortedPositions(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedPositionsF(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
