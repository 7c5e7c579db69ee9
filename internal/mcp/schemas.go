package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/internal/retriever"
)

// indexLessonsTool returns the tool definition for index_lessons
func indexLessonsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_lessons",
		Description: "Chunk, embed and store lessons so they can be retrieved. Exactly one of lesson_id, course_id or recent selects the lessons.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lesson_id": map[string]interface{}{
					"type":        "string",
					"description": "Index a single lesson",
				},
				"course_id": map[string]interface{}{
					"type":        "string",
					"description": "Index every lesson of a course",
				},
				"recent": map[string]interface{}{
					"type":        "integer",
					"description": "Index the N most recently updated lessons",
					"minimum":     0,
				},
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"description": "Report what would be embedded without calling the provider or writing",
					"default":     false,
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-embed chunks even when their content hash is unchanged",
					"default":     false,
				},
				"max_chars": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum characters per chunk",
					"minimum":     64,
					"maximum":     32000,
				},
				"max_embeddings": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum provider calls for the whole run, retries included",
					"default":     indexer.DefaultMaxEmbeddingsPerRun,
					"minimum":     1,
				},
				"concurrency": map[string]interface{}{
					"type":        "integer",
					"description": "Concurrent embedding calls per lesson (1-5)",
					"default":     indexer.DefaultConcurrency,
					"minimum":     1,
					"maximum":     5,
				},
				"retry_attempts": map[string]interface{}{
					"type":        "integer",
					"description": "Provider calls per chunk including the first (1-10)",
					"default":     indexer.DefaultRetryAttempts,
					"minimum":     1,
					"maximum":     10,
				},
				"skip_unchanged": map[string]interface{}{
					"type":        "boolean",
					"description": "Skip lessons whose stored embeddings are newer than the lesson. A lesson left partly embedded by a failed or budget-stopped run stays hidden until a run without this option",
					"default":     false,
				},
			},
		},
	}
}

// retrieveChunksTool returns the tool definition for retrieve_chunks
func retrieveChunksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_chunks",
		Description: "Return the lesson chunks closest to a query within the given courses, nearest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question or search text",
				},
				"course_ids": map[string]interface{}{
					"type":        "array",
					"description": "Courses the caller may read; an empty list matches nothing",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"lesson_id": map[string]interface{}{
					"type":        "string",
					"description": "Optionally restrict results to one lesson",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chunks to return",
					"default":     retriever.DefaultTopK,
					"minimum":     1,
					"maximum":     retriever.MaxTopK,
				},
			},
			Required: []string{"query", "course_ids"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report lesson and embedding counts and the configured embedding model",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
