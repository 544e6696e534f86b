package mcp

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repoctx-mcp/internal/config"
	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/progress"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoctx"
	// ProgressMethod is the notification method for progress updates
	ProgressMethod = "notifications/progress"
	// progressTotal is the total sent with every progress notification
	progressTotal = 100.0
)

// notifyFunc delivers one progress notification for a request.
type notifyFunc func(ctx context.Context, token mcp.ProgressToken, fraction float64, message string) error

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	pipeline  *pipeline.Pipeline
	heartbeat time.Duration
	notify    notifyFunc
	logger    hclog.Logger
}

// NewServer creates a new MCP server exposing the pipeline as tools.
// A nil logger discards output.
func NewServer(p *pipeline.Pipeline, cfg config.MCPConfig, version string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:       mcpServer,
		pipeline:  p,
		heartbeat: cfg.HeartbeatInterval,
		notify:    sendProgress,
		logger:    logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server over in and out until ctx is cancelled or the
// input is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	s.logger.Info("serving on stdio", "heartbeat", s.heartbeat)
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchRepositoryTool(), s.handleSearchRepository)
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(repositoryStatusTool(), s.handleRepositoryStatus)
}

// sendProgress forwards a progress notification to the client of the
// session carried by ctx.
func sendProgress(ctx context.Context, token mcp.ProgressToken, fraction float64, message string) error {
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	params := map[string]any{
		"progressToken": token,
		"progress":      fraction * progressTotal,
		"total":         progressTotal,
	}
	if message != "" {
		params["message"] = message
	}
	return srv.SendNotificationToClient(ctx, ProgressMethod, params)
}

// progressSink returns the progress.Func for a request, or nil when the
// client did not ask for progress. Notifications never go backwards even
// when the heartbeat and the pipeline report concurrently.
func (s *Server) progressSink(ctx context.Context, request mcp.CallToolRequest) progress.Func {
	meta := request.Params.Meta
	if meta == nil || meta.ProgressToken == nil {
		return nil
	}
	token := meta.ProgressToken

	var mu sync.Mutex
	sent := -1.0
	return func(fraction float64, message string) {
		mu.Lock()
		defer mu.Unlock()
		if fraction < sent {
			fraction = sent
		}
		sent = fraction
		if err := s.notify(ctx, token, fraction, message); err != nil {
			s.logger.Debug("progress notification failed", "err", err)
		}
	}
}
