// Package mcp implements the Model Context Protocol (MCP) server for lessonrag.
//
// The server exposes three tools to assistants and tutoring agents:
//   - index_lessons: Chunk, embed and store lessons for retrieval
//   - retrieve_chunks: Return the chunks nearest to a query within a course scope
//   - get_status: Report store counts and the configured embedding model
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries protocol messages only.
//
// # Basic Usage
//
//	lessonrag serve
//
// # Tool: index_lessons
//
//	Request:
//	{
//	  "course_id": "course-42",
//	  "max_embeddings": 100,
//	  "skip_unchanged": true
//	}
//
//	Response:
//	{
//	  "run_id": "5b0e...",
//	  "lessons_selected": 12,
//	  "lessons_processed": 4,
//	  "total": 31,
//	  "embedded": 6,
//	  "skipped": 25,
//	  "deleted": 1,
//	  "failed": 0,
//	  "deferred": 0,
//	  "lessons": [...]
//	}
//
// When the run budget runs out the response carries
// "stopped_reason": "budget exhausted" and rerunning the same request
// resumes where the previous run stopped.
//
// # Tool: retrieve_chunks
//
//	Request:
//	{
//	  "query": "how do closures capture variables",
//	  "course_ids": ["course-42"],
//	  "top_k": 5
//	}
//
//	Response:
//	{
//	  "results": [
//	    {"lesson_id": "l-7", "course_id": "course-42", "chunk_index": 2,
//	     "content": "...", "distance": 0.18}
//	  ],
//	  "total_results": 1
//	}
//
// An empty course_ids list is a valid request that returns no results.
//
// # Error Handling
//
// Errors use JSON-RPC codes:
//   - -32602: Invalid params (bad selector, out-of-range options)
//   - -32603: Internal error (storage or provider failure)
//   - -32002: The lesson is already being indexed
//   - -32004: Empty query
package mcp
