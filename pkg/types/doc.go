// Package types defines the shared data model for the paper query
// pipeline: paper records, query filters, retrieval candidates, ranked
// results, context bundles, and the API request/response shapes.
//
// The package is dependency-free so it can be imported by any layer
// (storage, retrieval, HTTP, MCP) without pulling in the rest of the
// stack.
//
// # Core Types
//
//	Paper         Authoritative paper record (identity = PaperID)
//	QueryFilters  Conjunctive search filters (date range, citations, venues, categories)
//	Candidate     A retrieval hit tagged with its source (vector, keyword, or both)
//	RankedResult  A candidate after fusion scoring, with its final rank
//	ContextBundle Budget-bounded ordered subset of papers passed to generation
//
// # Error Taxonomy
//
// Sentinel errors classify failures for the HTTP layer and for retry
// decisions:
//
//	ErrInvalidFilter          caller error, never retried
//	ErrContextBudgetExceeded  configuration error, never retried
//	ErrRetrievalDegraded      one search branch failed; pipeline continued
//	ErrGenerationUnavailable  generation failed after the retry budget
//	ErrTimeout                request deadline exceeded
//
// Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
package types
