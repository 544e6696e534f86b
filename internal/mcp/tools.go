package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/pkg/types"
)

// internalMessage replaces the details of internal errors in tool results.
const internalMessage = "internal error"

// ErrorBody is the error object of a failed tool call.
type ErrorBody struct {
	Code    types.ErrorKind `json:"code"`
	Message string          `json:"message"`
}

// ErrorPayload is the structured result of a failed tool call.
type ErrorPayload struct {
	Error ErrorBody `json:"error"`
}

// operation is the work behind one tool call.
type operation func(ctx context.Context, report progress.Func) (any, error)

// handleSearchRepository handles the search_repository tool invocation
func (s *Server) handleSearchRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := pipeline.SearchRequest{}
	var err error
	if req.Repository, err = requireString(args, "repository"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Query, err = requireString(args, "query"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Branch, err = optionalString(args, "branch"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Keywords, err = optionalStrings(args, "keywords"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Include, err = optionalStrings(args, "include"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Exclude, err = optionalStrings(args, "exclude"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}
	if req.Limit, err = optionalInt(args, "limit"); err != nil {
		return s.errorResult(ToolSearchRepository, err), nil
	}

	return s.invoke(ctx, request, ToolSearchRepository, func(ctx context.Context, report progress.Func) (any, error) {
		return s.pipeline.Search(ctx, req, report)
	}), nil
}

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := pipeline.IndexRequest{}
	var err error
	if req.Repository, err = requireString(args, "repository"); err != nil {
		return s.errorResult(ToolIndexRepository, err), nil
	}
	if req.Branch, err = optionalString(args, "branch"); err != nil {
		return s.errorResult(ToolIndexRepository, err), nil
	}

	return s.invoke(ctx, request, ToolIndexRepository, func(ctx context.Context, report progress.Func) (any, error) {
		return s.pipeline.Index(ctx, req, report)
	}), nil
}

// handleRepositoryStatus handles the repository_status tool invocation
func (s *Server) handleRepositoryStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repository, err := requireString(request.GetArguments(), "repository")
	if err != nil {
		return s.errorResult(ToolRepositoryStatus, err), nil
	}
	status, err := s.pipeline.Status(ctx, repository)
	if err != nil {
		return s.errorResult(ToolRepositoryStatus, err), nil
	}
	return jsonResult(status), nil
}

// invoke runs op alongside a heartbeat that repeats the last progress value
// whenever op has been silent for a full interval. The heartbeat stops as
// soon as op returns.
func (s *Server) invoke(ctx context.Context, request mcp.CallToolRequest, tool string, op operation) *mcp.CallToolResult {
	sink := s.progressSink(ctx, request)
	tracker := progress.NewTracker(sink)
	done := make(chan struct{})

	var result any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		var err error
		result, err = op(gctx, tracker.Report)
		return err
	})
	if sink != nil && s.heartbeat > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(s.heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return nil
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if tracker.Since() >= s.heartbeat {
						last, message := tracker.Last()
						sink(last, message)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return s.errorResult(tool, err)
	}
	return jsonResult(result)
}

// errorResult converts err into a structured error payload. Internal errors
// are logged and their details withheld from the client.
func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	kind := types.KindOf(err)
	message := err.Error()
	if kind == types.KindInternal {
		s.logger.Error("tool failed", "tool", tool, "err", err)
		message = internalMessage
	} else {
		s.logger.Warn("tool failed", "tool", tool, "kind", string(kind), "err", err)
	}

	result := jsonResult(ErrorPayload{Error: ErrorBody{Code: kind, Message: message}})
	result.IsError = true
	return result
}

// jsonResult formats data as an indented JSON text result
func jsonResult(data any) *mcp.CallToolResult {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(bytes))
}

// requireString extracts a non-blank string parameter
func requireString(args map[string]any, key string) (string, error) {
	val, err := optionalString(args, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(val) == "" {
		return "", types.NewInvalidInput("%s parameter is required", key)
	}
	return val, nil
}

// optionalString extracts a string parameter, empty when absent
func optionalString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", nil
	}
	val, ok := raw.(string)
	if !ok {
		return "", types.NewInvalidInput("%s must be a string", key)
	}
	return val, nil
}

// optionalStrings extracts a string array parameter. A single string is
// accepted as a one-element array.
func optionalStrings(args map[string]any, key string) ([]string, error) {
	switch val := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, types.NewInvalidInput("%s must be an array of strings", key)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, types.NewInvalidInput("%s must be an array of strings", key)
	}
}

// optionalInt extracts an integer parameter, zero when absent
func optionalInt(args map[string]any, key string) (int, error) {
	switch val := args[key].(type) {
	case nil:
		return 0, nil
	case int:
		return val, nil
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt32 {
			return 0, types.NewInvalidInput("%s must be an integer", key)
		}
		return int(val), nil
	default:
		return 0, types.NewInvalidInput("%s must be an integer", key)
	}
}
