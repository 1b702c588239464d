package types

import "errors"

// Pipeline failure classes. The HTTP layer maps these to status codes and
// the orchestrator uses them to decide whether a stage may be retried.
var (
	// ErrInvalidFilter indicates a malformed request: an inverted date
	// range, a non-positive top_k, or a top_k above the configured maximum.
	ErrInvalidFilter = errors.New("invalid query filter")

	// ErrContextBudgetExceeded indicates that not even the single
	// highest-ranked paper fits the context budget. This signals a
	// misconfigured budget, not a normal runtime condition.
	ErrContextBudgetExceeded = errors.New("context budget exceeded")

	// ErrRetrievalDegraded records that one of the vector/keyword branches
	// failed and retrieval continued on the surviving branch. It is logged,
	// never surfaced as a request failure on its own.
	ErrRetrievalDegraded = errors.New("retrieval degraded to single branch")

	// ErrGenerationUnavailable indicates the generation backend was
	// unreachable or returned malformed output after the retry budget.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrTimeout indicates the request deadline expired at a suspension
	// point. Waiters on the same fingerprint observe the same error.
	ErrTimeout = errors.New("request timed out")
)
