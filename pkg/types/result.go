package types

// CandidateSource tags which search branch produced a candidate. Fusion
// logic switches on this discriminant; a candidate is never an untyped
// bag of optional scores.
type CandidateSource string

const (
	SourceVector  CandidateSource = "vector"
	SourceKeyword CandidateSource = "keyword"
	SourceBoth    CandidateSource = "both"
)

// Candidate is a single retrieval hit before fusion. Similarity is the
// raw cosine score in [-1, 1] and is meaningful only when Source is
// vector or both; KeywordScore (>= 0) only when Source is keyword or
// both. The absent signal is zero and is scored as zero by the ranker.
type Candidate struct {
	Paper        *Paper
	Similarity   float64
	KeywordScore float64
	Source       CandidateSource
}

// RankedResult is a candidate after fusion. FusedScore is non-increasing
// with Rank; ties are broken by (citation count desc, paper id asc) so
// identical inputs always produce identical output.
type RankedResult struct {
	Paper      *Paper
	FusedScore float64
	Rank       int // 1-based
}

// ContextEntry is one paper in the generation context. Index is the
// 1-based "Paper N" number the generation model cites by.
type ContextEntry struct {
	Index int
	Paper *Paper
	Score float64
}

// ContextBundle is the budget-bounded, order-preserving subset of ranked
// papers passed to generation. Entries keep decreasing-relevance order.
type ContextBundle struct {
	Entries   []ContextEntry
	UnitsUsed int
}

// PaperIDs returns the identities present in the bundle, in order.
func (b *ContextBundle) PaperIDs() []string {
	ids := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		ids[i] = e.Paper.PaperID
	}
	return ids
}
