package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/lessonrag/pkg/types"
)

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension
type PostgresStorage struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresStorage connects to dsn and creates the schema. dimension fixes
// the width of the vector column.
func NewPostgresStorage(ctx context.Context, dsn string, dimension int) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty DSN")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("postgres: invalid vector dimension %d", dimension)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_course ON lessons(course_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_updated ON lessons(updated_at DESC)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lesson_embeddings (
			lesson_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL CHECK (chunk_index >= 0),
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (lesson_id, chunk_index)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_lesson_embeddings_scope ON lesson_embeddings(course_id, lesson_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lesson_embeddings_hnsw ON lesson_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return opErr("ensure schema", err)
		}
	}
	return nil
}

// Close releases the pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Lesson operations

func upsertLessonWithQuerier(ctx context.Context, q pgQuerier, lesson *types.Lesson) error {
	if err := lesson.Validate(); err != nil {
		return err
	}
	if lesson.UpdatedAt.IsZero() {
		lesson.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO lessons (id, course_id, title, content, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
	`
	_, err := q.Exec(ctx, query,
		lesson.ID, lesson.CourseID, lesson.Title, lesson.Content, lesson.UpdatedAt.UTC())
	return opErr("upsert lesson", err)
}

func (s *PostgresStorage) UpsertLesson(ctx context.Context, lesson *types.Lesson) error {
	return upsertLessonWithQuerier(ctx, s.pool, lesson)
}

func (s *PostgresStorage) ImportLessons(ctx context.Context, lessons []*types.Lesson) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return opErr("begin import", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, lesson := range lessons {
		if err := upsertLessonWithQuerier(ctx, tx, lesson); err != nil {
			return fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
	}
	return opErr("commit import", tx.Commit(ctx))
}

func scanPgLesson(row pgx.Row) (*types.Lesson, error) {
	var l types.Lesson
	if err := row.Scan(&l.ID, &l.CourseID, &l.Title, &l.Content, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

func (s *PostgresStorage) GetLesson(ctx context.Context, id string) (*types.Lesson, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id)
	lesson, err := scanPgLesson(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lesson %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, opErr("get lesson", err)
	}
	return lesson, nil
}

func (s *PostgresStorage) listLessons(ctx context.Context, query string, args ...any) ([]*types.Lesson, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, opErr("list lessons", err)
	}
	defer rows.Close()

	lessons := make([]*types.Lesson, 0)
	for rows.Next() {
		lesson, err := scanPgLesson(rows)
		if err != nil {
			return nil, opErr("scan lesson", err)
		}
		lessons = append(lessons, lesson)
	}
	return lessons, opErr("list lessons", rows.Err())
}

func (s *PostgresStorage) ListLessonsByCourse(ctx context.Context, courseID string) ([]*types.Lesson, error) {
	return s.listLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = $1 ORDER BY id`, courseID)
}

func (s *PostgresStorage) ListRecentLessons(ctx context.Context, limit int) ([]*types.Lesson, error) {
	if limit <= 0 {
		return []*types.Lesson{}, nil
	}
	return s.listLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons ORDER BY updated_at DESC, id ASC LIMIT $1`, limit)
}

// Embedding operations

func (s *PostgresStorage) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if len(rec.Embedding) != s.dimension {
		return opErr("upsert embedding",
			fmt.Errorf("vector has %d dimensions, column expects %d", len(rec.Embedding), s.dimension))
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO lesson_embeddings
			(lesson_id, course_id, chunk_index, content, content_hash, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lesson_id, chunk_index) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		rec.LessonID, rec.CourseID, rec.ChunkIndex, rec.Content, rec.ContentHash,
		pgvector.NewVector(rec.Embedding), rec.UpdatedAt.UTC())
	return opErr("upsert embedding", err)
}

func (s *PostgresStorage) DeleteBeyond(ctx context.Context, lessonID string, maxValidIndex int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM lesson_embeddings WHERE lesson_id = $1 AND chunk_index > $2`, lessonID, maxValidIndex)
	if err != nil {
		return 0, opErr("delete beyond", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStorage) DeleteLessonEmbeddings(ctx context.Context, lessonID string) (int, error) {
	return s.DeleteBeyond(ctx, lessonID, -1)
}

func (s *PostgresStorage) ChunkHashes(ctx context.Context, lessonID string, dimension int) (map[int]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_index, content_hash FROM lesson_embeddings
		WHERE lesson_id = $1 AND ($2::int <= 0 OR vector_dims(embedding) = $2::int)`, lessonID, dimension)
	if err != nil {
		return nil, opErr("chunk hashes", err)
	}
	defer rows.Close()

	hashes := make(map[int]string)
	for rows.Next() {
		var idx int
		var hash string
		if err := rows.Scan(&idx, &hash); err != nil {
			return nil, opErr("chunk hashes", err)
		}
		hashes[idx] = hash
	}
	return hashes, opErr("chunk hashes", rows.Err())
}

func (s *PostgresStorage) Watermarks(ctx context.Context, lessonIDs []string, dimension int) (map[string]Watermark, error) {
	marks := make(map[string]Watermark, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return marks, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT lesson_id, COUNT(*),
			COUNT(*) FILTER (WHERE $2::int > 0 AND vector_dims(embedding) <> $2::int),
			MAX(updated_at)
		FROM lesson_embeddings
		WHERE lesson_id = ANY($1)
		GROUP BY lesson_id`, lessonIDs, dimension)
	if err != nil {
		return nil, opErr("watermarks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w Watermark
		if err := rows.Scan(&w.LessonID, &w.Count, &w.Mismatched, &w.MaxUpdatedAt); err != nil {
			return nil, opErr("watermarks", err)
		}
		w.MaxUpdatedAt = w.MaxUpdatedAt.UTC()
		marks[w.LessonID] = w
	}
	return marks, opErr("watermarks", rows.Err())
}

// Search operations

func (s *PostgresStorage) SearchNearest(ctx context.Context, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error) {
	if scope.Empty() || limit <= 0 {
		return []types.RetrievedChunk{}, nil
	}

	stmt := `
		SELECT lesson_id, course_id, chunk_index, content, embedding <=> $1 AS distance
		FROM lesson_embeddings
		WHERE course_id = ANY($2) AND ($3 = '' OR lesson_id = $3)
		ORDER BY embedding <=> $1, lesson_id, chunk_index
		LIMIT $4`
	rows, err := s.pool.Query(ctx, stmt, pgvector.NewVector(query), scope.CourseIDs, scope.LessonID, limit)
	if err != nil {
		return nil, opErr("search nearest", err)
	}
	defer rows.Close()

	results := make([]types.RetrievedChunk, 0, limit)
	for rows.Next() {
		var r types.RetrievedChunk
		if err := rows.Scan(&r.LessonID, &r.CourseID, &r.ChunkIndex, &r.Content, &r.Distance); err != nil {
			return nil, opErr("search nearest", err)
		}
		results = append(results, r)
	}
	return results, opErr("search nearest", rows.Err())
}

func (s *PostgresStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{Backend: "postgres"}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM lessons),
			(SELECT COUNT(DISTINCT lesson_id) FROM lesson_embeddings),
			(SELECT COUNT(*) FROM lesson_embeddings)`).
		Scan(&status.Lessons, &status.IndexedLessons, &status.Embeddings)
	if err != nil {
		return nil, opErr("status", err)
	}

	var size int64
	if err := s.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&size); err == nil {
		status.SizeMB = float64(size) / (1024 * 1024)
	}
	return status, nil
}
