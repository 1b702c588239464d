// Package ranker fuses heterogeneous relevance signals (vector
// similarity, keyword score, citation impact) into a single
// deterministic ordering.
package ranker

import (
	"math"
	"sort"

	"github.com/jmorrow/paperquery/pkg/types"
)

// Weights are the fusion coefficients applied to per-signal scores after
// normalization to [0, 1]. They need not sum to 1.
type Weights struct {
	Similarity float64
	Keyword    float64
	Citation   float64
}

// DefaultWeights favor vector similarity, with keyword match and
// citation impact as secondary signals.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Keyword: 0.25, Citation: 0.15}
}

// Ranker scores and orders merged candidates.
type Ranker struct {
	weights Weights
}

// New creates a Ranker with the given weights.
func New(w Weights) *Ranker {
	return &Ranker{weights: w}
}

// Rank fuses the candidate set into an ordered result list truncated to
// topK.
//
// Each signal is min-max normalized independently over the candidate set
// before weighting, so no signal's native scale can dominate by
// accident. Citation counts are log-scaled first so a single
// extremely-cited paper does not collapse the rest into ties. A signal a
// candidate lacks (keyword-only candidates have no similarity and vice
// versa) scores zero rather than being excluded.
//
// Ties on the fused score break by higher raw citation count, then
// lexicographically smaller paper identity, so identical inputs always
// produce identical output. Cache correctness depends on that.
func (r *Ranker) Rank(candidates []types.Candidate, topK int) []types.RankedResult {
	if len(candidates) == 0 || topK <= 0 {
		return []types.RankedResult{}
	}

	simNorm := normalizeSignal(candidates, hasSimilarity, func(c types.Candidate) float64 { return c.Similarity })
	kwNorm := normalizeSignal(candidates, hasKeyword, func(c types.Candidate) float64 { return c.KeywordScore })
	citNorm := normalizeSignal(candidates, everyone, func(c types.Candidate) float64 {
		return math.Log1p(float64(c.Paper.CitationCount))
	})

	results := make([]types.RankedResult, len(candidates))
	for i, c := range candidates {
		fused := r.weights.Similarity*simNorm[i] +
			r.weights.Keyword*kwNorm[i] +
			r.weights.Citation*citNorm[i]
		results[i] = types.RankedResult{Paper: c.Paper, FusedScore: fused}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].Paper.CitationCount != results[j].Paper.CitationCount {
			return results[i].Paper.CitationCount > results[j].Paper.CitationCount
		}
		return results[i].Paper.PaperID < results[j].Paper.PaperID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func hasSimilarity(c types.Candidate) bool {
	return c.Source == types.SourceVector || c.Source == types.SourceBoth
}

func hasKeyword(c types.Candidate) bool {
	return c.Source == types.SourceKeyword || c.Source == types.SourceBoth
}

func everyone(types.Candidate) bool { return true }

// normalizeSignal min-max normalizes the signal over the candidates that
// carry it; candidates without the signal get 0. When every present
// value is identical, present candidates get 1.0 so "has the signal"
// stays distinguishable from "lacks the signal".
func normalizeSignal(candidates []types.Candidate, present func(types.Candidate) bool, value func(types.Candidate) float64) []float64 {
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	found := false
	for _, c := range candidates {
		if !present(c) {
			continue
		}
		v := value(c)
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		found = true
	}

	norm := make([]float64, len(candidates))
	if !found {
		return norm
	}

	span := maxV - minV
	for i, c := range candidates {
		if !present(c) {
			continue
		}
		if span == 0 {
			norm[i] = 1.0
			continue
		}
		norm[i] = (value(c) - minV) / span
	}
	return norm
}
