package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmorrow/paperquery/internal/ingest"
	"github.com/jmorrow/paperquery/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32001 // Query parameter is empty
	ErrorCodeCorpusAccess  = -32002 // Corpus file missing or unreadable
)

// handleAskPapers handles the ask_papers tool invocation
func (s *Server) handleAskPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req, err := parseQueryRequest(args)
	if err != nil {
		return nil, err
	}
	req.IncludeTrends = getBoolDefault(args, "include_trends", false)

	resp, err := s.pipeline.Ask(ctx, *req)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "query failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sources := make([]map[string]interface{}, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		sources = append(sources, map[string]interface{}{
			"paper_id":        src.PaperID,
			"title":           src.Title,
			"venue":           src.Venue,
			"published_date":  src.PublishedDate,
			"citation_count":  src.CitationCount,
			"relevance_score": src.RelevanceScore,
			"arxiv_url":       src.ArxivURL,
		})
	}

	response := map[string]interface{}{
		"answer":  resp.Answer,
		"sources": sources,
		"metadata": map[string]interface{}{
			"papers_found":    resp.Metadata.PapersFound,
			"cache_hit":       resp.Metadata.CacheHit,
			"prompt_template": resp.Metadata.PromptTemplate,
			"total_time_ms":   resp.Metadata.TotalTimeMs,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchPapers handles the search_papers tool invocation
func (s *Server) handleSearchPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req, err := parseQueryRequest(args)
	if err != nil {
		return nil, err
	}

	ranked, err := s.pipeline.Search(ctx, *req)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	papers := make([]map[string]interface{}, 0, len(ranked))
	for _, rr := range ranked {
		entry := map[string]interface{}{
			"rank":           rr.Rank,
			"paper_id":       rr.Paper.PaperID,
			"title":          rr.Paper.Title,
			"venue":          rr.Paper.Venue,
			"citation_count": rr.Paper.CitationCount,
			"fused_score":    rr.FusedScore,
			"arxiv_url":      rr.Paper.ArxivURL,
		}
		if !rr.Paper.PublishedDate.IsZero() {
			entry["published_date"] = rr.Paper.PublishedDate.Format(types.DateLayout)
		}
		papers = append(papers, entry)
	}

	response := map[string]interface{}{
		"papers": papers,
		"count":  len(papers),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestPapers handles the ingest_papers tool invocation
func (s *Server) handleIngestPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if _, err := os.Stat(path); err != nil {
		return nil, newMCPError(ErrorCodeCorpusAccess, "corpus file not accessible", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	cfg := &ingest.Config{
		SkipEmbed: getBoolDefault(args, "skip_embed", false),
	}

	stats, err := s.ingester.IngestFile(ctx, path, cfg)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "ingest failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"papers_loaded": stats.PapersLoaded,
		"papers_failed": stats.PapersFailed,
		"embedded":      stats.Embedded,
		"embed_failed":  stats.EmbedFailed,
		"duration_ms":   stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCorpusStatus handles the corpus_status tool invocation
func (s *Server) handleCorpusStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.pipeline.CorpusStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read corpus stats", map[string]interface{}{
			"error": err.Error(),
		})
	}
	cacheLen, cacheTTL := s.pipeline.CacheStats()

	response := map[string]interface{}{
		"papers":          stats.Papers,
		"embeddings":      stats.Embeddings,
		"embedding_model": s.pipeline.ModelVersion(),
		"cache": map[string]interface{}{
			"entries": cacheLen,
			"ttl":     cacheTTL.String(),
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// parseQueryRequest extracts the shared query/top_k/filters arguments.
func parseQueryRequest(args map[string]interface{}) (*types.QueryRequest, error) {
	queryText, ok := args["query"].(string)
	if !ok || queryText == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req := &types.QueryRequest{
		Query: queryText,
		TopK:  getIntDefault(args, "top_k", 0),
	}

	rawFilters, ok := args["filters"].(map[string]interface{})
	if !ok {
		return req, nil
	}
	filters, err := parseFilters(rawFilters)
	if err != nil {
		return nil, err
	}
	req.Filters = filters
	return req, nil
}

func parseFilters(raw map[string]interface{}) (*types.QueryFilters, error) {
	filters := &types.QueryFilters{
		MinCitations: getIntDefault(raw, "min_citations", 0),
		Venues:       getStringSlice(raw, "venues"),
		Categories:   getStringSlice(raw, "categories"),
	}

	for _, field := range []struct {
		key string
		dst **time.Time
	}{
		{"date_from", &filters.DateFrom},
		{"date_to", &filters.DateTo},
	} {
		s, ok := raw[field.key].(string)
		if !ok || s == "" {
			continue
		}
		t, err := time.Parse(types.DateLayout, s)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid date filter", map[string]interface{}{
				"param":  field.key,
				"value":  s,
				"reason": "expected YYYY-MM-DD",
			})
		}
		*field.dst = &t
	}

	return filters, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value.
// JSON numbers decode as float64.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
