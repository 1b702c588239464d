package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jmorrow/paperquery/pkg/types"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPaper(id string) *types.Paper {
	published, _ := time.Parse(types.DateLayout, "2023-06-15")
	return &types.Paper{
		PaperID:       id,
		Title:         "Attention Is All You Need " + id,
		Abstract:      "We propose the Transformer, a model architecture based on attention mechanisms.",
		Authors:       []string{"Ashish Vaswani", "Noam Shazeer"},
		PublishedDate: published,
		Venue:         "NeurIPS",
		Categories:    []string{"cs.CL", "cs.LG"},
		CitationCount: 90000,
		ArxivURL:      "https://arxiv.org/abs/1706.03762",
	}
}

func TestUpsertAndGetPaper(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	want := testPaper("p1")
	if err := store.UpsertPaper(ctx, want); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}

	got, err := store.GetPaper(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPaper failed: %v", err)
	}
	if got.Title != want.Title || got.Venue != want.Venue || got.CitationCount != want.CitationCount {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.Authors) != 2 || got.Authors[0] != "Ashish Vaswani" {
		t.Errorf("authors = %v", got.Authors)
	}
	if len(got.Categories) != 2 {
		t.Errorf("categories = %v", got.Categories)
	}
	if !got.PublishedDate.Equal(want.PublishedDate) {
		t.Errorf("published = %v, want %v", got.PublishedDate, want.PublishedDate)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	p := testPaper("p1")
	if err := store.UpsertPaper(ctx, p); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	p.CitationCount = 95000
	p.Title = "Updated Title"
	if err := store.UpsertPaper(ctx, p); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := store.GetPaper(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPaper failed: %v", err)
	}
	if got.CitationCount != 95000 || got.Title != "Updated Title" {
		t.Errorf("update not applied: %+v", got)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Papers != 1 {
		t.Errorf("papers = %d, want 1 (upsert must not duplicate)", stats.Papers)
	}
}

func TestGetPaperNotFound(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.GetPaper(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveEmbeddingAndListUnembedded(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := store.UpsertPaper(ctx, testPaper(id)); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}

	missing, err := store.ListUnembedded(ctx, "local", "v1", 10)
	if err != nil {
		t.Fatalf("ListUnembedded failed: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("unembedded = %d, want 3", len(missing))
	}

	if err := store.SaveEmbedding(ctx, "p1", []float32{0.1, 0.2, 0.3}, "local", "v1"); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	missing, err = store.ListUnembedded(ctx, "local", "v1", 10)
	if err != nil {
		t.Fatalf("ListUnembedded failed: %v", err)
	}
	if len(missing) != 2 {
		t.Errorf("unembedded after save = %d, want 2", len(missing))
	}

	// A different model sees every paper as unembedded.
	missing, err = store.ListUnembedded(ctx, "openai", "text-embedding-3-small", 10)
	if err != nil {
		t.Fatalf("ListUnembedded failed: %v", err)
	}
	if len(missing) != 3 {
		t.Errorf("unembedded for other model = %d, want 3", len(missing))
	}
}

func TestSaveEmbeddingUnknownPaper(t *testing.T) {
	store := newTestStorage(t)
	err := store.SaveEmbedding(context.Background(), "ghost", []float32{0.1}, "local", "v1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchVectorRanksByCosine(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"near":     {1, 0, 0},
		"medium":   {0.7, 0.7, 0},
		"opposite": {-1, 0, 0},
	}
	for id, vec := range vectors {
		if err := store.UpsertPaper(ctx, testPaper(id)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		if err := store.SaveEmbedding(ctx, id, vec, "local", "v1"); err != nil {
			t.Fatalf("save embedding failed: %v", err)
		}
	}

	hits, err := store.SearchVector(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("SearchVector failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Paper.PaperID != "near" || hits[1].Paper.PaperID != "medium" {
		t.Errorf("order = %s, %s, want near, medium", hits[0].Paper.PaperID, hits[1].Paper.PaperID)
	}
	if math.Abs(hits[0].Similarity-1.0) > 1e-6 {
		t.Errorf("near similarity = %f, want 1.0", hits[0].Similarity)
	}
}

func TestSearchVectorSkipsDimensionMismatch(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.UpsertPaper(ctx, testPaper("old-model")); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEmbedding(ctx, "old-model", []float32{1, 0}, "local", "v0"); err != nil {
		t.Fatal(err)
	}

	hits, err := store.SearchVector(ctx, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("SearchVector failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0 for mismatched dimensions", len(hits))
	}
}

func TestSearchKeywordFTS(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	transformer := testPaper("transformer")
	transformer.Title = "Attention Is All You Need"
	transformer.Abstract = "The Transformer architecture relies entirely on attention mechanisms."

	cnn := testPaper("cnn")
	cnn.Title = "Deep Residual Learning for Image Recognition"
	cnn.Abstract = "Residual networks ease the training of deep convolutional networks."

	for _, p := range []*types.Paper{transformer, cnn} {
		if err := store.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := store.SearchKeyword(ctx, "attention mechanisms", 10, nil)
	if err != nil {
		t.Fatalf("SearchKeyword failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Paper.PaperID != "transformer" {
		t.Errorf("hits = %+v, want the transformer paper", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("score = %f, want (0, 1]", hits[0].Score)
	}
}

func TestSearchKeywordScoreOrdering(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	strong := testPaper("strong")
	strong.Title = "Attention Mechanisms in Attention Networks"
	strong.Abstract = "Attention mechanisms everywhere: self-attention, cross-attention, attention over attention mechanisms."

	weak := testPaper("weak")
	weak.Title = "A Survey of Deep Learning Methods"
	weak.Abstract = "This survey covers convolutional networks, recurrent networks, graph networks, generative models, " +
		"reinforcement learning, and briefly mentions attention mechanisms near the end of a long discussion."

	filler := testPaper("filler")
	filler.Title = "Stochastic Gradient Descent Convergence"
	filler.Abstract = "Convergence rates for stochastic optimization under convexity assumptions."

	for _, p := range []*types.Paper{strong, weak, filler} {
		if err := store.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := store.SearchKeyword(ctx, "attention mechanisms", 10, nil)
	if err != nil {
		t.Fatalf("SearchKeyword failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Paper.PaperID != "strong" {
		t.Fatalf("order = %s, %s, want strong first", hits[0].Paper.PaperID, hits[1].Paper.PaperID)
	}
	// The score value must agree with the ranking: the better lexical
	// match carries the higher score, since fusion normalizes values,
	// not ranks.
	if hits[0].Score <= hits[1].Score {
		t.Errorf("strong score %f <= weak score %f; score must grow with match strength", hits[0].Score, hits[1].Score)
	}
}

func TestSearchKeywordReflectsUpdates(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	p := testPaper("p1")
	p.Title = "Quantum Entanglement Basics"
	p.Abstract = "A primer on entanglement."
	if err := store.UpsertPaper(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.Title = "Classical Mechanics Basics"
	p.Abstract = "A primer on Newtonian motion."
	if err := store.UpsertPaper(ctx, p); err != nil {
		t.Fatal(err)
	}

	hits, err := store.SearchKeyword(ctx, "entanglement", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Error("stale FTS row survived the update")
	}

	hits, err = store.SearchKeyword(ctx, "newtonian", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Error("updated FTS row not searchable")
	}
}

func TestSearchFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	old := testPaper("old")
	old.PublishedDate, _ = time.Parse(types.DateLayout, "2018-01-01")
	old.CitationCount = 50
	old.Venue = "ICLR"

	recent := testPaper("recent")
	recent.PublishedDate, _ = time.Parse(types.DateLayout, "2024-03-01")
	recent.CitationCount = 900
	recent.Venue = "NeurIPS"

	for _, p := range []*types.Paper{old, recent} {
		if err := store.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := store.SaveEmbedding(ctx, p.PaperID, []float32{1, 0}, "local", "v1"); err != nil {
			t.Fatal(err)
		}
	}

	from, _ := time.Parse(types.DateLayout, "2020-01-01")
	tests := []struct {
		name    string
		filters *types.QueryFilters
		wantIDs []string
	}{
		{"no filters", nil, []string{"old", "recent"}},
		{"date from", &types.QueryFilters{DateFrom: &from}, []string{"recent"}},
		{"min citations", &types.QueryFilters{MinCitations: 100}, []string{"recent"}},
		{"venue case-insensitive", &types.QueryFilters{Venues: []string{"neurips"}}, []string{"recent"}},
		{"category", &types.QueryFilters{Categories: []string{"cs.CL"}}, []string{"old", "recent"}},
		{"conjunction excludes all", &types.QueryFilters{DateFrom: &from, Venues: []string{"ICLR"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := store.SearchVector(ctx, []float32{1, 0}, 10, tt.filters)
			if err != nil {
				t.Fatalf("SearchVector failed: %v", err)
			}
			got := make(map[string]bool)
			for _, h := range hits {
				got[h.Paper.PaperID] = true
			}
			if len(hits) != len(tt.wantIDs) {
				t.Fatalf("hits = %d, want %d", len(hits), len(tt.wantIDs))
			}
			for _, id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("missing %s", id)
				}
			}
		})
	}
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.14159, 0}
	got := deserializeVector(serializeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d = %f, want %f", i, got[i], vec[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("cosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain terms", "attention mechanisms", `"attention" "mechanisms"`},
		{"strips operators", `foo AND bar`, `"foo" "and" "bar"`},
		{"strips syntax chars", `"quoted" (grouped)*`, `"quoted" "grouped"`},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFTSQuery(tt.in); got != tt.want {
				t.Errorf("sanitizeFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
