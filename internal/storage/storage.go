package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/lessonrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrUnknownDriver is returned by Open for unsupported backends
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// OpError is a failed read or write against the persisted store. It is
// terminal for the operation; the pipeline never retries it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// Scope restricts nearest-neighbor search. CourseIDs is the access
// boundary: a scope without courses matches nothing. LessonID optionally
// narrows the search to one lesson.
type Scope struct {
	CourseIDs []string
	LessonID  string
}

// Empty reports whether the scope can match no rows
func (s Scope) Empty() bool {
	return len(s.CourseIDs) == 0
}

// Watermark summarizes a lesson's persisted chunks
type Watermark struct {
	LessonID     string
	Count        int
	Mismatched   int
	MaxUpdatedAt time.Time
}

// Status reports store-wide counts
type Status struct {
	Backend        string  `json:"backend"`
	Lessons        int     `json:"lessons"`
	IndexedLessons int     `json:"indexed_lessons"`
	Embeddings     int     `json:"embeddings"`
	SizeMB         float64 `json:"size_mb,omitempty"`
}

// EmbeddingStore persists chunk vectors keyed by (lesson, chunk index)
type EmbeddingStore interface {
	// UpsertEmbedding writes or overwrites one row; repeating it with the
	// same input leaves the same state.
	UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error

	// DeleteBeyond removes a lesson's rows with chunk index > maxValidIndex
	// and returns how many were removed. -1 removes every row.
	DeleteBeyond(ctx context.Context, lessonID string, maxValidIndex int) (int, error)

	// DeleteLessonEmbeddings removes every row of a lesson
	DeleteLessonEmbeddings(ctx context.Context, lessonID string) (int, error)

	// ChunkHashes maps chunk index to stored content hash for a lesson.
	// Rows stored with a vector length other than dimension are left out,
	// so callers re-embed them; dimension <= 0 returns every row.
	ChunkHashes(ctx context.Context, lessonID string, dimension int) (map[int]string, error)

	// Watermarks returns count and max(updated_at) per lesson; lessons
	// without rows are absent from the map.
	// Mismatched counts rows whose length differs from dimension (> 0).
	Watermarks(ctx context.Context, lessonIDs []string, dimension int) (map[string]Watermark, error)

	// SearchNearest returns up to limit rows in scope ordered by ascending
	// cosine distance to query.
	SearchNearest(ctx context.Context, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error)
}

// LessonReader is the read-only accessor over the lesson store
type LessonReader interface {
	GetLesson(ctx context.Context, id string) (*types.Lesson, error)
	ListLessonsByCourse(ctx context.Context, courseID string) ([]*types.Lesson, error)
	ListRecentLessons(ctx context.Context, limit int) ([]*types.Lesson, error)
}

// Storage is a backend that holds both lessons and their embeddings
type Storage interface {
	EmbeddingStore
	LessonReader

	// UpsertLesson and ImportLessons seed the lesson table for local use
	UpsertLesson(ctx context.Context, lesson *types.Lesson) error
	ImportLessons(ctx context.Context, lessons []*types.Lesson) error

	Status(ctx context.Context) (*Status, error)
	Close() error
}

// Backend names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend
type Config struct {
	Driver    string
	Path      string
	DSN       string
	Dimension int
}

// Open creates the configured backend
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLiteStorage(cfg.Path)
	case DriverPostgres:
		return NewPostgresStorage(ctx, cfg.DSN, cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}
