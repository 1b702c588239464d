package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmorrow/paperquery/internal/embedder"
	"github.com/jmorrow/paperquery/internal/storage"
	"github.com/jmorrow/paperquery/pkg/types"
)

// mockStorage implements storage.Storage with overridable search funcs.
type mockStorage struct {
	searchVectorFunc  func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error)
	searchKeywordFunc func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error)
}

func (m *mockStorage) UpsertPaper(ctx context.Context, paper *types.Paper) error { return nil }
func (m *mockStorage) GetPaper(ctx context.Context, paperID string) (*types.Paper, error) {
	return nil, storage.ErrNotFound
}
func (m *mockStorage) SaveEmbedding(ctx context.Context, paperID string, vector []float32, provider, model string) error {
	return nil
}
func (m *mockStorage) ListUnembedded(ctx context.Context, provider, model string, limit int) ([]string, error) {
	return nil, nil
}
func (m *mockStorage) SearchVector(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
	if m.searchVectorFunc != nil {
		return m.searchVectorFunc(ctx, vector, k, filters)
	}
	return nil, nil
}
func (m *mockStorage) SearchKeyword(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
	if m.searchKeywordFunc != nil {
		return m.searchKeywordFunc(ctx, text, k, filters)
	}
	return nil, nil
}
func (m *mockStorage) Stats(ctx context.Context) (*storage.Stats, error) {
	return &storage.Stats{}, nil
}
func (m *mockStorage) Ping(ctx context.Context) error { return nil }
func (m *mockStorage) Close() error                   { return nil }

// mockEmbedder implements embedder.Embedder for testing.
type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) (*embedder.Embedding, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return &embedder.Embedding{Vector: []float32{0.1, 0.2}, Dimension: 2, Provider: "mock", Model: "mock"}, nil
}
func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	out := make([]*embedder.Embedding, len(texts))
	for i := range texts {
		emb, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}
func (m *mockEmbedder) Dimension() int       { return 2 }
func (m *mockEmbedder) ModelVersion() string { return "mock/mock" }
func (m *mockEmbedder) Close() error         { return nil }

func paper(id string, citations int) *types.Paper {
	return &types.Paper{PaperID: id, Title: id, Abstract: "abstract", CitationCount: citations}
}

func newTestRetriever(store storage.Storage, emb embedder.Embedder) *Retriever {
	return New(store, emb, Config{
		KPerBranch:     20,
		VectorTimeout:  time.Second,
		KeywordTimeout: time.Second,
	}, nil)
}

func TestRetrieveMergesBothBranches(t *testing.T) {
	store := &mockStorage{
		searchVectorFunc: func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
			return []storage.VectorHit{
				{Paper: paper("shared", 10), Similarity: 0.9},
				{Paper: paper("vec-only", 5), Similarity: 0.7},
			}, nil
		},
		searchKeywordFunc: func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
			return []storage.KeywordHit{
				{Paper: paper("shared", 10), Score: 0.8},
				{Paper: paper("kw-only", 3), Score: 0.6},
			}, nil
		},
	}

	res, err := newTestRetriever(store, &mockEmbedder{}).Retrieve(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if res.Degraded {
		t.Error("unexpected degradation")
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(res.Candidates))
	}

	byID := make(map[string]types.Candidate)
	for _, c := range res.Candidates {
		byID[c.Paper.PaperID] = c
	}

	shared := byID["shared"]
	if shared.Source != types.SourceBoth {
		t.Errorf("shared source = %v, want SourceBoth", shared.Source)
	}
	if shared.Similarity != 0.9 || shared.KeywordScore != 0.8 {
		t.Errorf("shared scores = %f/%f, want 0.9/0.8", shared.Similarity, shared.KeywordScore)
	}
	if byID["vec-only"].Source != types.SourceVector {
		t.Errorf("vec-only source = %v", byID["vec-only"].Source)
	}
	if byID["kw-only"].Source != types.SourceKeyword {
		t.Errorf("kw-only source = %v", byID["kw-only"].Source)
	}
}

func TestRetrieveDegradesWhenVectorBranchFails(t *testing.T) {
	store := &mockStorage{
		searchVectorFunc: func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
			return nil, errors.New("index offline")
		},
		searchKeywordFunc: func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
			return []storage.KeywordHit{{Paper: paper("kw", 1), Score: 0.5}}, nil
		},
	}

	res, err := newTestRetriever(store, &mockEmbedder{}).Retrieve(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Retrieve failed despite surviving branch: %v", err)
	}
	if !res.Degraded {
		t.Error("degradation not reported")
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Paper.PaperID != "kw" {
		t.Errorf("candidates = %+v, want the keyword hit only", res.Candidates)
	}
}

func TestRetrieveDegradesWhenEmbeddingFails(t *testing.T) {
	emb := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) (*embedder.Embedding, error) {
			return nil, errors.New("provider down")
		},
	}
	store := &mockStorage{
		searchKeywordFunc: func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
			return []storage.KeywordHit{{Paper: paper("kw", 1), Score: 0.5}}, nil
		},
	}

	res, err := newTestRetriever(store, emb).Retrieve(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !res.Degraded {
		t.Error("embedding failure should degrade to keyword-only")
	}
}

func TestRetrieveFailsWhenBothBranchesFail(t *testing.T) {
	store := &mockStorage{
		searchVectorFunc: func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
			return nil, errors.New("vector broken")
		},
		searchKeywordFunc: func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
			return nil, errors.New("fts broken")
		},
	}

	_, err := newTestRetriever(store, &mockEmbedder{}).Retrieve(context.Background(), "query", nil)
	if err == nil {
		t.Fatal("expected an error when both branches fail")
	}
}

func TestRetrievePostFilterSafetyNet(t *testing.T) {
	// Storage returns a paper the filters should exclude; the merge-level
	// re-check must drop it.
	store := &mockStorage{
		searchVectorFunc: func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
			return []storage.VectorHit{
				{Paper: paper("low-cite", 2), Similarity: 0.9},
				{Paper: paper("high-cite", 500), Similarity: 0.8},
			}, nil
		},
	}

	filters := &types.QueryFilters{MinCitations: 100}
	res, err := newTestRetriever(store, &mockEmbedder{}).Retrieve(context.Background(), "query", filters)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Paper.PaperID != "high-cite" {
		t.Errorf("candidates = %+v, want high-cite only", res.Candidates)
	}
}

func TestRetrieveContextCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	store := &mockStorage{
		searchVectorFunc: func(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]storage.VectorHit, error) {
			<-block
			return nil, nil
		},
		searchKeywordFunc: func(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]storage.KeywordHit, error) {
			<-block
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestRetriever(store, &mockEmbedder{}).Retrieve(ctx, "query", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
