// Package mcp exposes the query pipeline as MCP tools over stdio, so
// editor agents can ask the paper corpus questions directly.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/ingest"
	"github.com/jmorrow/paperquery/internal/pipeline"
)

const (
	// ServerName is the MCP server name
	ServerName = "paperquery"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp      *server.MCPServer
	pipeline *pipeline.Pipeline
	ingester *ingest.Ingester
	log      *zap.Logger
}

// NewServer creates an MCP server over an assembled pipeline.
func NewServer(p *pipeline.Pipeline, ing *ingest.Ingester, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		pipeline: p,
		ingester: ing,
		log:      log,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp server starting on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(askPapersTool(), s.handleAskPapers)
	s.mcp.AddTool(searchPapersTool(), s.handleSearchPapers)
	s.mcp.AddTool(ingestPapersTool(), s.handleIngestPapers)
	s.mcp.AddTool(corpusStatusTool(), s.handleCorpusStatus)
}
