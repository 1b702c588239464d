// Package storage persists the paper corpus in SQLite and serves the two
// retrieval primitives: cosine-similarity vector search over stored
// embeddings and BM25 keyword search via FTS5.
//
// The package builds against either the CGO mattn driver or the pure Go
// modernc driver; see build_cgo.go and build_purego.go.
package storage

import (
	"context"
	"errors"

	"github.com/jmorrow/paperquery/pkg/types"
)

var (
	// ErrNotFound is returned when a requested paper doesn't exist.
	ErrNotFound = errors.New("not found")
)

// VectorHit is a single result from vector similarity search.
type VectorHit struct {
	Paper      *types.Paper
	Similarity float64 // cosine similarity in [-1, 1]
}

// KeywordHit is a single result from BM25 keyword search.
type KeywordHit struct {
	Paper *types.Paper
	Score float64 // normalized BM25 score, >= 0
}

// Stats summarizes corpus state for /stats and health checks.
type Stats struct {
	Papers     int
	Embeddings int
	Provider   string // provider/model of the stored embeddings, if any
}

// Storage is the document store and vector index behind retrieval.
type Storage interface {
	// UpsertPaper inserts or refreshes a paper keyed by its external
	// identity. Identity never changes; an upsert may only refresh
	// mutable attributes (citation count, categories, abstract).
	UpsertPaper(ctx context.Context, paper *types.Paper) error

	// GetPaper fetches a paper by identity. Returns ErrNotFound when absent.
	GetPaper(ctx context.Context, paperID string) (*types.Paper, error)

	// SaveEmbedding stores the embedding vector for a paper, replacing
	// any previous vector (papers are re-embedded on model change).
	SaveEmbedding(ctx context.Context, paperID string, vector []float32, provider, model string) error

	// ListUnembedded returns identities of papers that have no stored
	// embedding for the given provider/model pair.
	ListUnembedded(ctx context.Context, provider, model string, limit int) ([]string, error)

	// SearchVector returns the k nearest papers by cosine similarity,
	// restricted to papers matching the filters.
	SearchVector(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]VectorHit, error)

	// SearchKeyword returns the k best papers by BM25 over title and
	// abstract, restricted to papers matching the filters.
	SearchKeyword(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]KeywordHit, error)

	// Stats reports corpus counts.
	Stats(ctx context.Context) (*Stats, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the database handle.
	Close() error
}
