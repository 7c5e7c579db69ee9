// Package types provides shared type definitions for the lessonrag pipeline.
//
// Lesson is the read-only source record owned by the lesson store. Chunk is
// the ephemeral output of the chunker, and EmbeddingRecord is the persisted,
// disposable projection of one chunk:
//
//	rec := &types.EmbeddingRecord{
//	    LessonID:    "lesson-1",
//	    CourseID:    "course-1",
//	    ChunkIndex:  0,
//	    Content:     chunk.Content,
//	    ContentHash: chunker.Hash(chunk.Content),
//	    Embedding:   vec,
//	}
//
// LessonResult and RunResult carry indexing counts back to callers, and
// RetrievedChunk is one ranked retrieval hit.
package types
