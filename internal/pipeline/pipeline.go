// Package pipeline wires normalization, caching, hybrid retrieval,
// fusion ranking, context building, and answer synthesis into the
// end-to-end query path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/cache"
	"github.com/jmorrow/paperquery/internal/generator"
	"github.com/jmorrow/paperquery/internal/query"
	"github.com/jmorrow/paperquery/internal/ranker"
	"github.com/jmorrow/paperquery/internal/retriever"
	"github.com/jmorrow/paperquery/internal/storage"
	"github.com/jmorrow/paperquery/pkg/types"
)

// DefaultTopK applies when a request leaves top_k unset.
const DefaultTopK = 10

// noResultsAnswer is returned without a generation call when retrieval
// finds nothing; there is no context to ground an answer in.
const noResultsAnswer = "No papers matching the query and filters were found in the corpus."

// Pipeline executes queries end to end. Safe for concurrent use.
type Pipeline struct {
	normalizer   *query.Normalizer
	cache        *cache.Cache
	retriever    *retriever.Retriever
	ranker       *ranker.Ranker
	builder      *generator.ContextBuilder
	synthesizer  *generator.Synthesizer
	storage      storage.Storage
	modelVersion string
	log          *zap.Logger
}

// Options collects the pipeline's collaborators.
type Options struct {
	Normalizer   *query.Normalizer
	Cache        *cache.Cache
	Retriever    *retriever.Retriever
	Ranker       *ranker.Ranker
	Builder      *generator.ContextBuilder
	Synthesizer  *generator.Synthesizer
	Storage      storage.Storage
	ModelVersion string // embedding model identity, part of every cache key
	Logger       *zap.Logger
}

// New assembles a Pipeline.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		normalizer:   opts.Normalizer,
		cache:        opts.Cache,
		retriever:    opts.Retriever,
		ranker:       opts.Ranker,
		builder:      opts.Builder,
		synthesizer:  opts.Synthesizer,
		storage:      opts.Storage,
		modelVersion: opts.ModelVersion,
		log:          log,
	}
}

// timings is filled by the compute closure so stage costs survive the
// trip through the cache layer. Zero on a cache hit.
type timings struct {
	retrievalMs  int64
	generationMs int64
}

// Ask answers a query request, consulting the cache first.
func (p *Pipeline) Ask(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}

	norm, fp, err := p.normalizer.Normalize(req, p.modelVersion)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var t timings
	entry, hit, err := p.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (*cache.Entry, error) {
		return p.compute(ctx, norm, &t)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", types.ErrTimeout, err)
		}
		return nil, err
	}

	resp := &types.QueryResponse{
		Query:   norm.Query,
		Answer:  entry.Answer,
		Sources: entry.Sources,
		Metadata: types.ResponseMetadata{
			RetrievalTimeMs:  t.retrievalMs,
			GenerationTimeMs: t.generationMs,
			TotalTimeMs:      time.Since(start).Milliseconds(),
			PapersFound:      len(entry.Sources),
			CacheHit:         hit,
			PromptTemplate:   entry.PromptTemplate,
			Model:            entry.Model,
		},
	}
	return resp, nil
}

// compute runs the uncached path: retrieve, rank, pack, synthesize.
func (p *Pipeline) compute(ctx context.Context, norm *query.Normalized, t *timings) (*cache.Entry, error) {
	retrievalStart := time.Now()
	res, err := p.retriever.Retrieve(ctx, norm.Query, norm.Filters)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	ranked := p.ranker.Rank(res.Candidates, norm.TopK)
	t.retrievalMs = time.Since(retrievalStart).Milliseconds()

	if len(ranked) == 0 {
		return &cache.Entry{
			Answer:         noResultsAnswer,
			Sources:        []types.PaperSource{},
			PromptTemplate: generator.TemplateStandard,
		}, nil
	}

	bundle, err := p.builder.Build(ranked)
	if err != nil {
		return nil, err
	}

	if p.synthesizer == nil {
		return nil, fmt.Errorf("%w: no generation backend configured", types.ErrGenerationUnavailable)
	}

	generationStart := time.Now()
	answer, err := p.synthesizer.Synthesize(ctx, norm.Query, bundle, norm.IncludeTrends)
	t.generationMs = time.Since(generationStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	p.log.Info("query computed",
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("ranked", len(ranked)),
		zap.Int("context_papers", len(bundle.Entries)),
		zap.Int("context_units", bundle.UnitsUsed),
		zap.Bool("degraded", res.Degraded),
		zap.String("template", answer.Template))

	return &cache.Entry{
		Answer:         answer.Text,
		Sources:        buildSources(bundle),
		CitedIDs:       answer.CitedIDs,
		PromptTemplate: answer.Template,
		Model:          answer.Model,
	}, nil
}

// buildSources converts the context bundle into response sources,
// preserving relevance order.
func buildSources(bundle *types.ContextBundle) []types.PaperSource {
	sources := make([]types.PaperSource, 0, len(bundle.Entries))
	for _, e := range bundle.Entries {
		src := types.PaperSource{
			PaperID:        e.Paper.PaperID,
			Title:          e.Paper.Title,
			Authors:        e.Paper.Authors,
			Abstract:       e.Paper.Abstract,
			Venue:          e.Paper.Venue,
			ArxivURL:       e.Paper.ArxivURL,
			CitationCount:  e.Paper.CitationCount,
			RelevanceScore: e.Score,
		}
		if !e.Paper.PublishedDate.IsZero() {
			src.PublishedDate = e.Paper.PublishedDate.Format(types.DateLayout)
		}
		sources = append(sources, src)
	}
	return sources
}

// Search runs retrieval and ranking only, skipping generation and the
// answer cache. Used by the search_papers tool and for debugging
// retrieval quality.
func (p *Pipeline) Search(ctx context.Context, req types.QueryRequest) ([]types.RankedResult, error) {
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	norm, _, err := p.normalizer.Normalize(req, p.modelVersion)
	if err != nil {
		return nil, err
	}
	res, err := p.retriever.Retrieve(ctx, norm.Query, norm.Filters)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	return p.ranker.Rank(res.Candidates, norm.TopK), nil
}

// InvalidateCache purges every cached answer. Returns the number of
// entries dropped.
func (p *Pipeline) InvalidateCache() int {
	return p.cache.Invalidate()
}

// CacheStats reports answer-cache occupancy and TTL.
func (p *Pipeline) CacheStats() (entries int, ttl time.Duration) {
	return p.cache.Len(), p.cache.TTL()
}

// Ping verifies the storage backend is reachable.
func (p *Pipeline) Ping(ctx context.Context) error {
	return p.storage.Ping(ctx)
}

// CorpusStats reports corpus counts from storage.
func (p *Pipeline) CorpusStats(ctx context.Context) (*storage.Stats, error) {
	return p.storage.Stats(ctx)
}

// ModelVersion reports the embedding model identity used in cache keys.
func (p *Pipeline) ModelVersion() string {
	return p.modelVersion
}
