// Package retriever implements hybrid retrieval: concurrent vector and
// keyword searches over the paper corpus, merged into a deduplicated
// candidate set.
//
// The two branches run in parallel, each under its own timeout, so the
// stage costs the longer of the two budgets rather than their sum. A
// failing branch degrades retrieval to the surviving branch instead of
// failing the request; only the loss of both branches is an error.
package retriever

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/embedder"
	"github.com/jmorrow/paperquery/internal/storage"
	"github.com/jmorrow/paperquery/pkg/types"
)

// Config bounds the retrieval stage.
type Config struct {
	KPerBranch     int           // candidates requested from each branch
	VectorTimeout  time.Duration // embedding + vector search budget
	KeywordTimeout time.Duration // keyword search budget
}

// Result is the merged candidate set plus branch diagnostics.
type Result struct {
	Candidates   []types.Candidate
	VectorCount  int  // hits returned by the vector branch
	KeywordCount int  // hits returned by the keyword branch
	Degraded     bool // one branch failed and was dropped
}

// Retriever coordinates the two search branches.
type Retriever struct {
	storage  storage.Storage
	embedder embedder.Embedder
	cfg      Config
	log      *zap.Logger
}

// New creates a Retriever.
func New(store storage.Storage, emb embedder.Embedder, cfg Config, log *zap.Logger) *Retriever {
	if cfg.KPerBranch <= 0 {
		cfg.KPerBranch = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{storage: store, embedder: emb, cfg: cfg, log: log}
}

type vectorOutcome struct {
	hits []storage.VectorHit
	err  error
}

type keywordOutcome struct {
	hits []storage.KeywordHit
	err  error
}

// Retrieve runs both branches for the normalized query text and merges
// the results. Filters are applied twice: pushed into the storage
// queries, then re-checked per candidate as a safety net.
func (r *Retriever) Retrieve(ctx context.Context, text string, filters *types.QueryFilters) (*Result, error) {
	vectorChan := make(chan vectorOutcome, 1)
	keywordChan := make(chan keywordOutcome, 1)

	go r.runVectorBranch(ctx, text, filters, vectorChan)
	go r.runKeywordBranch(ctx, text, filters, keywordChan)

	var vectorRes vectorOutcome
	var keywordRes keywordOutcome
	var vectorDone, keywordDone bool
	for !vectorDone || !keywordDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case keywordRes = <-keywordChan:
			keywordDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if vectorRes.err != nil && keywordRes.err != nil {
		return nil, fmt.Errorf("both retrieval branches failed: vector=%w, keyword=%v", vectorRes.err, keywordRes.err)
	}

	res := &Result{
		VectorCount:  len(vectorRes.hits),
		KeywordCount: len(keywordRes.hits),
	}

	if vectorRes.err != nil {
		res.Degraded = true
		r.log.Warn("vector branch failed, continuing keyword-only",
			zap.Error(vectorRes.err),
			zap.NamedError("class", types.ErrRetrievalDegraded))
	}
	if keywordRes.err != nil {
		res.Degraded = true
		r.log.Warn("keyword branch failed, continuing vector-only",
			zap.Error(keywordRes.err),
			zap.NamedError("class", types.ErrRetrievalDegraded))
	}

	res.Candidates = merge(vectorRes.hits, keywordRes.hits, filters)
	return res, nil
}

// runVectorBranch embeds the query then searches the vector index, all
// inside the vector budget.
func (r *Retriever) runVectorBranch(ctx context.Context, text string, filters *types.QueryFilters, out chan<- vectorOutcome) {
	if r.cfg.VectorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.VectorTimeout)
		defer cancel()
	}

	var res vectorOutcome
	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		res.err = fmt.Errorf("embed query: %w", err)
	} else {
		res.hits, res.err = r.storage.SearchVector(ctx, emb.Vector, r.cfg.KPerBranch, filters)
	}

	select {
	case out <- res:
	case <-ctx.Done():
	}
}

func (r *Retriever) runKeywordBranch(ctx context.Context, text string, filters *types.QueryFilters, out chan<- keywordOutcome) {
	if r.cfg.KeywordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.KeywordTimeout)
		defer cancel()
	}

	var res keywordOutcome
	res.hits, res.err = r.storage.SearchKeyword(ctx, text, r.cfg.KPerBranch, filters)

	select {
	case out <- res:
	case <-ctx.Done():
	}
}

// merge deduplicates by paper identity. A paper present in both lists
// becomes a single candidate tagged SourceBoth carrying both raw scores.
// The post-filter drops anything the storage-level filters let through.
func merge(vectorHits []storage.VectorHit, keywordHits []storage.KeywordHit, filters *types.QueryFilters) []types.Candidate {
	byID := make(map[string]int, len(vectorHits)+len(keywordHits))
	merged := make([]types.Candidate, 0, len(vectorHits)+len(keywordHits))

	for _, vh := range vectorHits {
		if !filters.Matches(vh.Paper) {
			continue
		}
		byID[vh.Paper.PaperID] = len(merged)
		merged = append(merged, types.Candidate{
			Paper:      vh.Paper,
			Similarity: vh.Similarity,
			Source:     types.SourceVector,
		})
	}

	for _, kh := range keywordHits {
		if !filters.Matches(kh.Paper) {
			continue
		}
		if i, ok := byID[kh.Paper.PaperID]; ok {
			merged[i].KeywordScore = kh.Score
			merged[i].Source = types.SourceBoth
			continue
		}
		byID[kh.Paper.PaperID] = len(merged)
		merged = append(merged, types.Candidate{
			Paper:        kh.Paper,
			KeywordScore: kh.Score,
			Source:       types.SourceKeyword,
		})
	}

	return merged
}
