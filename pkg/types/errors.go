package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingLessonID    = errors.New("lesson id is required")
	ErrMissingCourseID    = errors.New("course id is required")
	ErrInvalidChunkIndex  = errors.New("chunk index must be >= 0")
	ErrMissingContentHash = errors.New("content hash is required")
	ErrEmptyEmbedding     = errors.New("embedding cannot be empty")
)
