package types

// QueryRequest is the inbound shape for POST /query and the ask_papers
// MCP tool.
type QueryRequest struct {
	Query         string        `json:"query"`
	Filters       *QueryFilters `json:"filters,omitempty"`
	TopK          int           `json:"top_k,omitempty"`
	IncludeTrends bool          `json:"include_trends,omitempty"`
}

// PaperSource describes one cited paper in a response, ordered by
// relevance.
type PaperSource struct {
	PaperID        string   `json:"paper_id"`
	Title          string   `json:"title"`
	Authors        []string `json:"authors,omitempty"`
	Abstract       string   `json:"abstract,omitempty"`
	PublishedDate  string   `json:"published_date,omitempty"`
	Venue          string   `json:"venue,omitempty"`
	ArxivURL       string   `json:"arxiv_url,omitempty"`
	CitationCount  int      `json:"citation_count"`
	RelevanceScore float64  `json:"relevance_score"`
}

// ResponseMetadata carries per-request timing and provenance.
type ResponseMetadata struct {
	RetrievalTimeMs  int64  `json:"retrieval_time_ms"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	PapersFound      int    `json:"papers_found"`
	CacheHit         bool   `json:"cache_hit"`
	PromptTemplate   string `json:"prompt_template,omitempty"`
	Model            string `json:"model,omitempty"`
}

// QueryResponse is the outbound shape for a completed query.
type QueryResponse struct {
	Query    string           `json:"query"`
	Answer   string           `json:"answer"`
	Sources  []PaperSource    `json:"sources"`
	Metadata ResponseMetadata `json:"metadata"`
}
