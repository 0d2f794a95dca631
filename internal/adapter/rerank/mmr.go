// Package rerank diversifies search hits before they are sent to the
// answer service.
package rerank

import (
	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var _ port.Reranker = (*MMR)(nil)

// MMR implements Maximal Marginal Relevance over chunk texts. Overlapping
// chunks of one document tend to be retrieved together; MMR keeps the
// best of them and gives the other slots to different passages.
type MMR struct {
	lambda       float64
	dedupJaccard float64
}

// NewMMR returns a reranker. lambda weighs relevance against novelty;
// candidates whose Jaccard similarity to an already selected hit exceeds
// dedupJaccard are dropped.
func NewMMR(lambda, dedupJaccard float64) *MMR {
	return &MMR{lambda: lambda, dedupJaccard: dedupJaccard}
}

// Rerank selects up to k hits from candidates.
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
func (r *MMR) Rerank(candidates []domain.ScoredPoint, k int) []domain.ScoredPoint {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	k = min(k, len(candidates))

	// scores can be negative (euclid), so normalise over the range
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates {
		lo = min(lo, c.Score)
		hi = max(hi, c.Score)
	}
	span := hi - lo

	type candidate struct {
		hit       domain.ScoredPoint
		relevance float64
		tokens    map[string]struct{}
	}
	remaining := make([]candidate, len(candidates))
	for i, c := range candidates {
		rel := 1.0
		if span > 0 {
			rel = (c.Score - lo) / span
		}
		remaining[i] = candidate{hit: c, relevance: rel, tokens: tokenSet(c.Payload.Text)}
	}

	var selected []candidate
	for len(selected) < k && len(remaining) > 0 {
		best, bestScore := -1, -1e9

		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				maxSim = max(maxSim, jaccard(c.tokens, s.tokens))
			}
			if maxSim > r.dedupJaccard {
				continue
			}
			score := r.lambda*c.relevance - (1-r.lambda)*maxSim
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best == -1 {
			break
		}

		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]domain.ScoredPoint, len(selected))
	for i, s := range selected {
		out[i] = s.hit
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
