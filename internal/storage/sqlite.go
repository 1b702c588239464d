package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmorrow/paperquery/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// New creates a SQLite storage instance and applies pending migrations.
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertPaper inserts a new paper or refreshes the mutable fields of an
// existing one. The paper_id key and created_at are never replaced.
func (s *SQLiteStorage) UpsertPaper(ctx context.Context, paper *types.Paper) error {
	if err := paper.Validate(); err != nil {
		return err
	}

	authors, err := json.Marshal(paper.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}
	categories, err := json.Marshal(paper.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	var published interface{}
	if !paper.PublishedDate.IsZero() {
		published = paper.PublishedDate.Format(types.DateLayout)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO papers (paper_id, title, abstract, authors, published_date, venue, categories, citation_count, arxiv_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(paper_id) DO UPDATE SET
			title = excluded.title,
			abstract = excluded.abstract,
			authors = excluded.authors,
			published_date = excluded.published_date,
			venue = excluded.venue,
			categories = excluded.categories,
			citation_count = excluded.citation_count,
			arxiv_url = excluded.arxiv_url,
			updated_at = CURRENT_TIMESTAMP`,
		paper.PaperID, paper.Title, paper.Abstract, string(authors), published,
		paper.Venue, string(categories), paper.CitationCount, paper.ArxivURL)
	if err != nil {
		return fmt.Errorf("upsert paper %s: %w", paper.PaperID, err)
	}
	return nil
}

// GetPaper fetches a paper by its external identity.
func (s *SQLiteStorage) GetPaper(ctx context.Context, paperID string) (*types.Paper, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT paper_id, title, abstract, authors, published_date, venue, categories, citation_count, arxiv_url
		FROM papers WHERE paper_id = ?`, paperID)

	paper, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paper %s: %w", paperID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get paper %s: %w", paperID, err)
	}
	return paper, nil
}

// SaveEmbedding stores the embedding vector for a paper.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, paperID string, vector []float32, provider, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("save embedding for %s: empty vector", paperID)
	}

	var rowid int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM papers WHERE paper_id = ?", paperID).Scan(&rowid)
	if err == sql.ErrNoRows {
		return fmt.Errorf("paper %s: %w", paperID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("resolve paper %s: %w", paperID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_embeddings (paper_rowid, vector, dimension, provider, model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(paper_rowid) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = CURRENT_TIMESTAMP`,
		rowid, serializeVector(vector), len(vector), provider, model)
	if err != nil {
		return fmt.Errorf("save embedding for %s: %w", paperID, err)
	}
	return nil
}

// ListUnembedded returns papers that still need an embedding for the
// given provider/model. Papers embedded with a different model count as
// unembedded, so a model switch triggers re-embedding on next ingest.
func (s *SQLiteStorage) ListUnembedded(ctx context.Context, provider, model string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.paper_id
		FROM papers p
		LEFT JOIN paper_embeddings e ON e.paper_rowid = p.id AND e.provider = ? AND e.model = ?
		WHERE e.id IS NULL
		ORDER BY p.id
		LIMIT ?`, provider, model, limit)
	if err != nil {
		return nil, fmt.Errorf("list unembedded: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats reports corpus counts.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM papers").Scan(&stats.Papers); err != nil {
		return nil, fmt.Errorf("count papers: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM paper_embeddings").Scan(&stats.Embeddings); err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	// Best effort: report the dominant embedding model
	var provider, model string
	err := s.db.QueryRowContext(ctx,
		"SELECT provider, model FROM paper_embeddings GROUP BY provider, model ORDER BY COUNT(*) DESC LIMIT 1").
		Scan(&provider, &model)
	if err == nil {
		stats.Provider = provider + "/" + model
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	return stats, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanPaper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaper(row rowScanner) (*types.Paper, error) {
	var (
		paper         types.Paper
		authorsJSON   string
		categoryJSON  string
		publishedDate sql.NullString
		venue         sql.NullString
		arxivURL      sql.NullString
	)
	err := row.Scan(&paper.PaperID, &paper.Title, &paper.Abstract, &authorsJSON,
		&publishedDate, &venue, &categoryJSON, &paper.CitationCount, &arxivURL)
	if err != nil {
		return nil, err
	}

	if err := fillPaper(&paper, authorsJSON, categoryJSON, publishedDate, venue, arxivURL); err != nil {
		return nil, err
	}
	return &paper, nil
}

// jsonInto unmarshals a JSON column, treating empty text as empty value.
func jsonInto(raw string, dst interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(types.DateLayout, s)
}
