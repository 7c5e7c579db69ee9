package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/internal/retriever"
	"github.com/dshills/lessonrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "lessonrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrMissingDependency is returned by NewServer when a required component is nil
var ErrMissingDependency = errors.New("missing server dependency")

// Deps are the components the tools call into. Embedder may be nil, in
// which case indexing is limited to dry runs and retrieval fails.
type Deps struct {
	Store     storage.Storage
	Indexer   *indexer.Indexer
	Retriever *retriever.Retriever
	Embedder  *embedder.Client
	// Defaults seed index_lessons options before tool arguments apply
	Defaults indexer.Options
	TopK     int
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	embedder  *embedder.Client
	defaults  indexer.Options
	topK      int
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance over deps. The caller owns
// the store and embedder and closes them after Serve returns.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Indexer == nil || deps.Retriever == nil {
		return nil, ErrMissingDependency
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := deps.TopK
	if topK <= 0 {
		topK = retriever.DefaultTopK
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		storage:   deps.Store,
		indexer:   deps.Indexer,
		retriever: deps.Retriever,
		embedder:  deps.Embedder,
		defaults:  deps.Defaults,
		topK:      topK,
		logger:    logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexLessonsTool(), s.handleIndexLessons)
	s.mcp.AddTool(retrieveChunksTool(), s.handleRetrieveChunks)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
