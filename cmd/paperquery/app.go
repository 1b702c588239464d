package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/cache"
	"github.com/jmorrow/paperquery/internal/config"
	"github.com/jmorrow/paperquery/internal/embedder"
	"github.com/jmorrow/paperquery/internal/generator"
	"github.com/jmorrow/paperquery/internal/ingest"
	"github.com/jmorrow/paperquery/internal/pipeline"
	"github.com/jmorrow/paperquery/internal/query"
	"github.com/jmorrow/paperquery/internal/ranker"
	"github.com/jmorrow/paperquery/internal/retriever"
	"github.com/jmorrow/paperquery/internal/storage"
)

// app holds the wired application graph.
type app struct {
	cfg      *config.Settings
	log      *zap.Logger
	storage  storage.Storage
	embedder embedder.Embedder
	cache    *cache.Cache
	pipeline *pipeline.Pipeline
	ingester *ingest.Ingester
}

// newLogger builds the process logger. MCP mode must keep stdout clean
// for the protocol, so logs always go to stderr.
func newLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode || debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// buildApp loads configuration and assembles the pipeline. withGeneration
// controls whether a chat client is required; ingest-only runs skip it.
func buildApp(withGeneration bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	answerCache, err := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, log)
	if err != nil {
		return nil, err
	}

	var synthesizer *generator.Synthesizer
	if withGeneration {
		client, err := generator.NewChatClient(cfg.Generation)
		if err != nil {
			return nil, fmt.Errorf("build generation client: %w", err)
		}
		synthesizer = generator.NewSynthesizer(client, log)
	}

	ret := retriever.New(store, emb, retriever.Config{
		KPerBranch:     cfg.Retrieval.KPerBranch,
		VectorTimeout:  cfg.Retrieval.VectorTimeout,
		KeywordTimeout: cfg.Retrieval.KeywordTimeout,
	}, log)

	p := pipeline.New(pipeline.Options{
		Normalizer: query.New(cfg.Retrieval.MaxTopK),
		Cache:      answerCache,
		Retriever:  ret,
		Ranker: ranker.New(ranker.Weights{
			Similarity: cfg.Fusion.SimilarityWeight,
			Keyword:    cfg.Fusion.KeywordWeight,
			Citation:   cfg.Fusion.CitationWeight,
		}),
		Builder:      generator.NewContextBuilder(cfg.Retrieval.ContextUnits),
		Synthesizer:  synthesizer,
		Storage:      store,
		ModelVersion: emb.ModelVersion(),
		Logger:       log,
	})

	ing := ingest.New(store, emb, log, func() {
		answerCache.Invalidate()
	})

	return &app{
		cfg:      cfg,
		log:      log,
		storage:  store,
		embedder: emb,
		cache:    answerCache,
		pipeline: p,
		ingester: ing,
	}, nil
}

// close releases the app's resources in reverse dependency order.
func (a *app) close() {
	if err := a.embedder.Close(); err != nil {
		a.log.Warn("close embedder", zap.Error(err))
	}
	if err := a.storage.Close(); err != nil {
		a.log.Warn("close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}
