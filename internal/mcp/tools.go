package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/internal/retriever"
	"github.com/dshills/lessonrag/internal/storage"
	"github.com/dshills/lessonrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // The lesson is already being indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// maxReportedErrors caps the per-lesson errors echoed in a tool response
const maxReportedErrors = 20

// handleIndexLessons handles the index_lessons tool invocation
func (s *Server) handleIndexLessons(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sel := indexer.Selector{
		LessonID: strings.TrimSpace(getStringDefault(args, "lesson_id", "")),
		CourseID: strings.TrimSpace(getStringDefault(args, "course_id", "")),
		Recent:   getIntDefault(args, "recent", 0),
	}
	if err := sel.Validate(); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
			"param":  "lesson_id|course_id|recent",
			"reason": "exactly one selector is required",
		})
	}

	opts := s.defaults
	opts.DryRun = getBoolDefault(args, "dry_run", false)
	opts.Force = getBoolDefault(args, "force", false)
	opts.MaxChars = getIntDefault(args, "max_chars", opts.MaxChars)
	opts.MaxEmbeddingsPerRun = getIntDefault(args, "max_embeddings", opts.MaxEmbeddingsPerRun)
	opts.Concurrency = getIntDefault(args, "concurrency", opts.Concurrency)
	opts.RetryAttempts = getIntDefault(args, "retry_attempts", opts.RetryAttempts)
	opts.SkipUnchangedLessons = getBoolDefault(args, "skip_unchanged", opts.SkipUnchangedLessons)

	result, err := s.indexer.Run(ctx, sel, opts)
	if err != nil {
		if errors.Is(err, indexer.ErrInvalidOptions) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid indexing options", map[string]interface{}{
				"reason": err.Error(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if sel.LessonID != "" && lessonBusy(result) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, indexer.ErrLessonBusy.Error(), map[string]interface{}{
			"lesson_id": sel.LessonID,
		})
	}

	return mcp.NewToolResultText(formatJSON(runResponse(result))), nil
}

// handleRetrieveChunks handles the retrieve_chunks tool invocation
func (s *Server) handleRetrieveChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", s.topK)
	if topK < 1 || topK > retriever.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", retriever.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	scope := storage.Scope{
		CourseIDs: getStringSlice(args, "course_ids"),
		LessonID:  strings.TrimSpace(getStringDefault(args, "lesson_id", "")),
	}

	chunks, err := s.retriever.Retrieve(ctx, query, scope, topK)
	if err != nil {
		code := ErrorCodeInternalError
		if errors.Is(err, retriever.ErrEmptyQuery) {
			code = ErrorCodeEmptyQuery
		}
		return nil, newMCPError(code, "retrieval failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"results":       chunks,
		"total_results": len(chunks),
	}
	if len(chunks) == 0 {
		response["message"] = "no indexed content in scope"
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"backend":         status.Backend,
		"lessons":         status.Lessons,
		"indexed_lessons": status.IndexedLessons,
		"embeddings":      status.Embeddings,
	}
	if status.SizeMB > 0 {
		response["size_mb"] = status.SizeMB
	}
	if s.embedder != nil {
		response["provider"] = s.embedder.Provider()
		response["model"] = s.embedder.Model()
		response["dimension"] = s.embedder.Dimension()
	} else {
		response["provider"] = "none"
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runResponse flattens a run result for the tool response, keeping the
// per-lesson breakdown and at most maxReportedErrors errors.
func runResponse(result *types.RunResult) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":            result.RunID,
		"dry_run":           result.DryRun,
		"lessons_selected":  result.LessonsSelected,
		"lessons_processed": result.LessonsProcessed,
		"lessons_unchanged": result.LessonsUnchanged,
		"total":             result.Total,
		"embedded":          result.Embedded,
		"skipped":           result.Skipped,
		"deleted":           result.Deleted,
		"failed":            result.Failed,
		"deferred":          result.Deferred,
		"lessons":           result.Lessons,
		"duration_ms":       result.Duration.Milliseconds(),
	}
	if result.DryRun {
		response["projected_tokens"] = result.ProjectedTokens
	}
	if result.StoppedReason != types.StopNone {
		response["stopped_reason"] = string(result.StoppedReason)
	}

	if errorCount := len(result.Errors); errorCount > 0 {
		msgs := make([]string, 0, min(errorCount, maxReportedErrors))
		for _, e := range result.Errors[:min(errorCount, maxReportedErrors)] {
			msgs = append(msgs, e.String())
		}
		response["errors"] = msgs
		response["error_count"] = errorCount
	}
	return response
}

func lessonBusy(result *types.RunResult) bool {
	for _, e := range result.Errors {
		if e.Message == indexer.ErrLessonBusy.Error() {
			return true
		}
	}
	return false
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
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
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a list of non-empty strings. JSON arrays decode
// as []interface{}; a comma-separated string is accepted too.
func getStringSlice(args map[string]interface{}, key string) []string {
	var raw []string
	switch val := args[key].(type) {
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = val
	case string:
		raw = strings.Split(val, ",")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
