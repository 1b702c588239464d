// Package ingest loads paper metadata into the corpus and embeds it:
// parse -> upsert -> embed.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmorrow/paperquery/internal/embedder"
	"github.com/jmorrow/paperquery/internal/storage"
	"github.com/jmorrow/paperquery/pkg/types"
)

// Config tunes the ingest run.
type Config struct {
	Workers   int  // concurrent upsert workers (default: runtime.NumCPU())
	BatchSize int  // papers embedded per provider call (default: 50)
	SkipEmbed bool // load metadata only, defer embedding
}

// Statistics summarizes an ingest run.
type Statistics struct {
	PapersLoaded  int
	PapersFailed  int
	Embedded      int
	EmbedFailed   int
	Duration      time.Duration
	ErrorMessages []string
}

// Ingester coordinates corpus loading.
type Ingester struct {
	storage  storage.Storage
	embedder embedder.Embedder
	log      *zap.Logger

	// onCorpusChange runs after any successful write; the server wires
	// cache invalidation here so stale answers never outlive an update.
	onCorpusChange func()
}

// New creates an Ingester. onCorpusChange may be nil.
func New(store storage.Storage, emb embedder.Embedder, log *zap.Logger, onCorpusChange func()) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingester{storage: store, embedder: emb, log: log, onCorpusChange: onCorpusChange}
}

// rawPaper is the JSON corpus shape. Dates arrive as YYYY-MM-DD strings.
type rawPaper struct {
	PaperID       string   `json:"paper_id"`
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"published_date"`
	Venue         string   `json:"venue"`
	Categories    []string `json:"categories"`
	CitationCount int      `json:"citation_count"`
	ArxivURL      string   `json:"arxiv_url"`
}

func (r *rawPaper) toPaper() (*types.Paper, error) {
	p := &types.Paper{
		PaperID:       r.PaperID,
		Title:         r.Title,
		Abstract:      r.Abstract,
		Authors:       r.Authors,
		Venue:         r.Venue,
		Categories:    r.Categories,
		CitationCount: r.CitationCount,
		ArxivURL:      r.ArxivURL,
	}
	if r.PublishedDate != "" {
		t, err := time.Parse(types.DateLayout, r.PublishedDate)
		if err != nil {
			return nil, fmt.Errorf("paper %s: bad published_date %q: %w", r.PaperID, r.PublishedDate, err)
		}
		p.PublishedDate = t
	}
	return p, p.Validate()
}

// IngestFile loads a JSON corpus file (an array of paper objects),
// upserts each paper, then embeds whatever the corpus is missing for
// the active embedding model.
func (ing *Ingester) IngestFile(ctx context.Context, path string, cfg *Config) (*Statistics, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var raws []rawPaper
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	if err := ing.upsertAll(ctx, raws, cfg, stats); err != nil {
		return nil, err
	}

	if !cfg.SkipEmbed {
		if err := ing.embedMissing(ctx, cfg, stats); err != nil {
			return nil, err
		}
	}

	if stats.PapersLoaded > 0 && ing.onCorpusChange != nil {
		ing.onCorpusChange()
	}

	stats.Duration = time.Since(start)
	ing.log.Info("ingest complete",
		zap.Int("loaded", stats.PapersLoaded),
		zap.Int("failed", stats.PapersFailed),
		zap.Int("embedded", stats.Embedded),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// upsertAll writes papers concurrently. A bad paper is recorded and
// skipped; it never aborts the run.
func (ing *Ingester) upsertAll(ctx context.Context, raws []rawPaper, cfg *Config, stats *Statistics) error {
	var loaded, failed int32
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := range raws {
		raw := &raws[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			paper, err := raw.toPaper()
			if err == nil {
				err = ing.storage.UpsertPaper(gctx, paper)
			}
			if err != nil {
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
				mu.Unlock()
				return nil
			}
			atomic.AddInt32(&loaded, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats.PapersLoaded = int(loaded)
	stats.PapersFailed = int(failed)
	return nil
}

// embedMissing embeds every paper lacking an embedding for the active
// provider/model, batch by batch. The embedded text is title plus
// abstract, the same composition used for query-time similarity.
func (ing *Ingester) embedMissing(ctx context.Context, cfg *Config, stats *Statistics) error {
	provider, model := splitModelVersion(ing.embedder.ModelVersion())

	for {
		ids, err := ing.storage.ListUnembedded(ctx, provider, model, cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list unembedded: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		papers := make([]*types.Paper, 0, len(ids))
		texts := make([]string, 0, len(ids))
		for _, id := range ids {
			paper, err := ing.storage.GetPaper(ctx, id)
			if err != nil {
				return fmt.Errorf("load paper %s: %w", id, err)
			}
			papers = append(papers, paper)
			texts = append(texts, paper.Title+"\n\n"+paper.Abstract)
		}

		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			stats.EmbedFailed += len(ids)
			return fmt.Errorf("embed batch: %w", err)
		}

		saved := 0
		for i, emb := range embeddings {
			if err := ing.storage.SaveEmbedding(ctx, papers[i].PaperID, emb.Vector, emb.Provider, emb.Model); err != nil {
				stats.EmbedFailed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("save embedding %s: %v", papers[i].PaperID, err))
				continue
			}
			saved++
			stats.Embedded++
		}
		// A batch where nothing saved would repeat forever; surface it.
		if saved == 0 {
			return fmt.Errorf("embedding batch made no progress: %d papers failed to save", len(ids))
		}
	}
}

// splitModelVersion splits "provider/model" back into its parts.
func splitModelVersion(v string) (provider, model string) {
	for i := 0; i < len(v); i++ {
		if v[i] == '/' {
			return v[:i], v[i+1:]
		}
	}
	return v, ""
}
