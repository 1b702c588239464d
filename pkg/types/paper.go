package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the timezone-free calendar format used everywhere a date
// crosses a boundary: filter canonicalization, storage, and the API.
const DateLayout = "2006-01-02"

// Paper is the authoritative record for a single research paper. PaperID
// is the stable external identifier (e.g. an arXiv id) and never changes;
// citation counts and categories may be refreshed by ingestion.
type Paper struct {
	PaperID       string    `json:"paper_id"`
	Title         string    `json:"title"`
	Abstract      string    `json:"abstract"`
	Authors       []string  `json:"authors"`
	PublishedDate time.Time `json:"published_date"`
	Venue         string    `json:"venue,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	CitationCount int       `json:"citation_count"`
	ArxivURL      string    `json:"arxiv_url,omitempty"`
}

// Validate checks the invariants an ingested paper must satisfy.
func (p *Paper) Validate() error {
	if p.PaperID == "" {
		return fmt.Errorf("paper id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("paper %s: title is required", p.PaperID)
	}
	if p.CitationCount < 0 {
		return fmt.Errorf("paper %s: citation count must be >= 0", p.PaperID)
	}
	return nil
}

// QueryFilters narrows a search. All fields are conjunctive: a paper must
// satisfy every set field. Nil date bounds mean unbounded.
type QueryFilters struct {
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
	MinCitations int        `json:"min_citations,omitempty"`
	Venues       []string   `json:"venues,omitempty"`
	Categories   []string   `json:"categories,omitempty"`
}

// Validate enforces from <= to when both bounds are present.
func (f *QueryFilters) Validate() error {
	if f == nil {
		return nil
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return fmt.Errorf("%w: date_from %s is after date_to %s",
			ErrInvalidFilter, f.DateFrom.Format(DateLayout), f.DateTo.Format(DateLayout))
	}
	if f.MinCitations < 0 {
		return fmt.Errorf("%w: min_citations must be >= 0", ErrInvalidFilter)
	}
	return nil
}

// Matches reports whether a paper satisfies every filter field. It is the
// post-retrieval safety net: candidates are re-checked here even though
// the storage layer pushes the same predicates into SQL.
func (f *QueryFilters) Matches(p *Paper) bool {
	if f == nil {
		return true
	}
	if f.DateFrom != nil && p.PublishedDate.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && p.PublishedDate.After(*f.DateTo) {
		return false
	}
	if p.CitationCount < f.MinCitations {
		return false
	}
	if len(f.Venues) > 0 && !containsFold(f.Venues, p.Venue) {
		return false
	}
	if len(f.Categories) > 0 && !intersects(f.Categories, p.Categories) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	for _, w := range want {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}
