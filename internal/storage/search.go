package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/jmorrow/paperquery/pkg/types"
)

// bm25TitleWeight ranks title matches above abstract matches, following
// the usual field weighting for bibliographic search.
const (
	bm25TitleWeight    = 2.0
	bm25AbstractWeight = 1.0
)

// SearchVector returns the k nearest papers by cosine similarity.
// Filters are pushed into SQL to shrink the candidate set; similarity is
// computed in Go over the surviving embeddings.
func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, k int, filters *types.QueryFilters) ([]VectorHit, error) {
	if k <= 0 {
		return []VectorHit{}, nil
	}

	query := `
		SELECT p.paper_id, p.title, p.abstract, p.authors, p.published_date, p.venue, p.categories, p.citation_count, p.arxiv_url,
		       e.vector
		FROM papers p
		INNER JOIN paper_embeddings e ON e.paper_rowid = p.id
		WHERE 1=1`
	query, args := applyFilters(query, nil, filters)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]VectorHit, 0, 256)
	for rows.Next() {
		var (
			paper         types.Paper
			authorsJSON   string
			categoryJSON  string
			publishedDate sql.NullString
			venue         sql.NullString
			arxivURL      sql.NullString
			blob          []byte
		)
		if err := rows.Scan(&paper.PaperID, &paper.Title, &paper.Abstract, &authorsJSON,
			&publishedDate, &venue, &categoryJSON, &paper.CitationCount, &arxivURL, &blob); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		if err := fillPaper(&paper, authorsJSON, categoryJSON, publishedDate, venue, arxivURL); err != nil {
			return nil, err
		}

		candidate := deserializeVector(blob)
		if len(candidate) != len(vector) {
			continue // dimension mismatch: embedded with a different model
		}

		hits = append(hits, VectorHit{
			Paper:      &paper,
			Similarity: cosineSimilarity(vector, candidate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Paper.PaperID < hits[j].Paper.PaperID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchKeyword returns the k best papers by BM25 over title+abstract.
func (s *SQLiteStorage) SearchKeyword(ctx context.Context, text string, k int, filters *types.QueryFilters) ([]KeywordHit, error) {
	if k <= 0 {
		return []KeywordHit{}, nil
	}

	sanitized := sanitizeFTSQuery(text)
	if sanitized == "" {
		return []KeywordHit{}, nil
	}

	query := fmt.Sprintf(`
		SELECT p.paper_id, p.title, p.abstract, p.authors, p.published_date, p.venue, p.categories, p.citation_count, p.arxiv_url,
		       bm25(papers_fts, %g, %g) AS score
		FROM papers_fts
		INNER JOIN papers p ON papers_fts.rowid = p.id
		WHERE papers_fts MATCH ?`, bm25TitleWeight, bm25AbstractWeight)
	args := []interface{}{sanitized}
	query, args = applyFilters(query, args, filters)
	query += " ORDER BY score LIMIT ?"
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]KeywordHit, 0, k)
	for rows.Next() {
		var (
			paper         types.Paper
			authorsJSON   string
			categoryJSON  string
			publishedDate sql.NullString
			venue         sql.NullString
			arxivURL      sql.NullString
			raw           float64
		)
		if err := rows.Scan(&paper.PaperID, &paper.Title, &paper.Abstract, &authorsJSON,
			&publishedDate, &venue, &categoryJSON, &paper.CitationCount, &arxivURL, &raw); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		if err := fillPaper(&paper, authorsJSON, categoryJSON, publishedDate, venue, arxivURL); err != nil {
			return nil, err
		}

		// FTS5 bm25() is negative with more negative meaning better.
		// Convert to a positive score in (0, 1) that grows with match
		// strength so downstream fusion can treat higher as better.
		score := math.Abs(raw) / (math.Abs(raw) + 50.0)

		hits = append(hits, KeywordHit{Paper: &paper, Score: score})
	}
	return hits, rows.Err()
}

// applyFilters appends WHERE conditions for the conjunctive query
// filters. The categories predicate matches on the JSON text and is
// deliberately loose; the retriever re-checks every candidate with
// QueryFilters.Matches.
func applyFilters(query string, args []interface{}, filters *types.QueryFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.DateFrom != nil {
		query += " AND p.published_date >= ?"
		args = append(args, filters.DateFrom.Format(types.DateLayout))
	}
	if filters.DateTo != nil {
		query += " AND p.published_date <= ?"
		args = append(args, filters.DateTo.Format(types.DateLayout))
	}
	if filters.MinCitations > 0 {
		query += " AND p.citation_count >= ?"
		args = append(args, filters.MinCitations)
	}
	if len(filters.Venues) > 0 {
		query += " AND lower(p.venue) IN (" + placeholders(len(filters.Venues)) + ")"
		for _, v := range filters.Venues {
			args = append(args, strings.ToLower(v))
		}
	}
	if len(filters.Categories) > 0 {
		query += " AND ("
		for i, c := range filters.Categories {
			if i > 0 {
				query += " OR "
			}
			query += "lower(p.categories) LIKE ?"
			args = append(args, `%"`+strings.ToLower(c)+`"%`)
		}
		query += ")"
	}

	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func fillPaper(paper *types.Paper, authorsJSON, categoryJSON string, publishedDate, venue, arxivURL sql.NullString) error {
	var err error
	if err = jsonInto(authorsJSON, &paper.Authors); err != nil {
		return fmt.Errorf("unmarshal authors for %s: %w", paper.PaperID, err)
	}
	if err = jsonInto(categoryJSON, &paper.Categories); err != nil {
		return fmt.Errorf("unmarshal categories for %s: %w", paper.PaperID, err)
	}
	if publishedDate.Valid && publishedDate.String != "" {
		paper.PublishedDate, err = parseDate(publishedDate.String)
		if err != nil {
			return fmt.Errorf("parse published_date for %s: %w", paper.PaperID, err)
		}
	}
	paper.Venue = venue.String
	paper.ArxivURL = arxivURL.String
	return nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian).
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice.
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FTS5 operator pattern for escaping Boolean operators
var ftsOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// sanitizeFTSQuery quotes user text so FTS5 treats it as plain terms,
// never as query syntax.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"*()`)
		f = ftsOperatorPattern.ReplaceAllStringFunc(f, strings.ToLower)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(terms, " ")
}

// SerializeVector is an exported helper for testing.
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// CosineSimilarity is an exported helper for testing.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
