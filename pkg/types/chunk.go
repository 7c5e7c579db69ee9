package types

import "time"

// Lesson is the source of truth for indexed content. The pipeline never
// writes lessons; UpdatedAt is the lesson-level change watermark.
type Lesson struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields the indexer relies on
func (l *Lesson) Validate() error {
	if l.ID == "" {
		return ErrMissingLessonID
	}
	if l.CourseID == "" {
		return ErrMissingCourseID
	}
	return nil
}

// Chunk is a bounded slice of normalized lesson text
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// EmbeddingRecord is one persisted chunk vector, unique on (LessonID, ChunkIndex)
type EmbeddingRecord struct {
	LessonID    string
	CourseID    string
	ChunkIndex  int
	Content     string
	ContentHash string
	Embedding   []float32
	UpdatedAt   time.Time
}

// Validate checks the record before a write
func (r *EmbeddingRecord) Validate() error {
	if r.LessonID == "" {
		return ErrMissingLessonID
	}
	if r.CourseID == "" {
		return ErrMissingCourseID
	}
	if r.ChunkIndex < 0 {
		return ErrInvalidChunkIndex
	}
	if r.ContentHash == "" {
		return ErrMissingContentHash
	}
	if len(r.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	return nil
}
