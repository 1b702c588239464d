package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// filterSchema describes the shared filters object accepted by the
// query tools.
func filterSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional filters to narrow the paper set; all conditions must hold",
		"properties": map[string]interface{}{
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Earliest publication date, inclusive (YYYY-MM-DD)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Latest publication date, inclusive (YYYY-MM-DD)",
			},
			"min_citations": map[string]interface{}{
				"type":        "integer",
				"description": "Minimum citation count",
				"minimum":     0,
			},
			"venues": map[string]interface{}{
				"type":        "array",
				"description": "Accepted venues, case-insensitive",
				"items":       map[string]interface{}{"type": "string"},
			},
			"categories": map[string]interface{}{
				"type":        "array",
				"description": "Accepted subject categories, case-insensitive",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
	}
}

// askPapersTool returns the tool definition for ask_papers
func askPapersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_papers",
		Description: "Ask a natural language question about the research paper corpus and get a cited answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The question to answer",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of papers to consider",
					"default":     10,
					"minimum":     1,
				},
				"include_trends": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, force a trend analysis of the matching papers",
					"default":     false,
				},
				"filters": filterSchema(),
			},
			Required: []string{"query"},
		},
	}
}

// searchPapersTool returns the tool definition for search_papers
func searchPapersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_papers",
		Description: "Search the paper corpus with hybrid retrieval and return ranked papers without generating an answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of papers to return",
					"default":     10,
					"minimum":     1,
				},
				"filters": filterSchema(),
			},
			Required: []string{"query"},
		},
	}
}

// ingestPapersTool returns the tool definition for ingest_papers
func ingestPapersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_papers",
		Description: "Load a JSON corpus file of paper metadata into the database and embed it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a JSON file containing an array of paper objects",
				},
				"skip_embed": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, load metadata only and defer embedding",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// corpusStatusTool returns the tool definition for corpus_status
func corpusStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "corpus_status",
		Description: "Report corpus size, embedding coverage, and answer cache occupancy",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
