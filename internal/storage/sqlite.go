package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/lessonrag/pkg/types"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; it also keeps :memory: databases
	// on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Lesson operations

func (s *SQLiteStorage) upsertLessonWithQuerier(ctx context.Context, q querier, lesson *types.Lesson) error {
	if err := lesson.Validate(); err != nil {
		return err
	}
	if lesson.UpdatedAt.IsZero() {
		lesson.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO lessons (id, course_id, title, content, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			course_id = excluded.course_id,
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		lesson.ID, lesson.CourseID, lesson.Title, lesson.Content, toNanos(lesson.UpdatedAt))
	return opErr("upsert lesson", err)
}

// UpsertLesson inserts or replaces a lesson
func (s *SQLiteStorage) UpsertLesson(ctx context.Context, lesson *types.Lesson) error {
	return s.upsertLessonWithQuerier(ctx, s.db, lesson)
}

// ImportLessons upserts lessons in one transaction
func (s *SQLiteStorage) ImportLessons(ctx context.Context, lessons []*types.Lesson) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr("begin import", err)
	}
	for _, lesson := range lessons {
		if err := s.upsertLessonWithQuerier(ctx, tx, lesson); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
	}
	return opErr("commit import", tx.Commit())
}

const lessonColumns = `id, course_id, title, content, updated_at`

func scanLesson(scan func(dest ...interface{}) error) (*types.Lesson, error) {
	var l types.Lesson
	var updated int64
	if err := scan(&l.ID, &l.CourseID, &l.Title, &l.Content, &updated); err != nil {
		return nil, err
	}
	l.UpdatedAt = fromNanos(updated)
	return &l, nil
}

func (s *SQLiteStorage) GetLesson(ctx context.Context, id string) (*types.Lesson, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)
	lesson, err := scanLesson(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lesson %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, opErr("get lesson", err)
	}
	return lesson, nil
}

func (s *SQLiteStorage) listLessons(ctx context.Context, query string, args ...interface{}) ([]*types.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("list lessons", err)
	}
	defer func() { _ = rows.Close() }()

	lessons := make([]*types.Lesson, 0)
	for rows.Next() {
		lesson, err := scanLesson(rows.Scan)
		if err != nil {
			return nil, opErr("scan lesson", err)
		}
		lessons = append(lessons, lesson)
	}
	return lessons, opErr("list lessons", rows.Err())
}

// ListLessonsByCourse returns a course's lessons ordered by id
func (s *SQLiteStorage) ListLessonsByCourse(ctx context.Context, courseID string) ([]*types.Lesson, error) {
	return s.listLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = ? ORDER BY id`, courseID)
}

// ListRecentLessons returns the most recently updated lessons first
func (s *SQLiteStorage) ListRecentLessons(ctx context.Context, limit int) ([]*types.Lesson, error) {
	if limit <= 0 {
		return []*types.Lesson{}, nil
	}
	return s.listLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons ORDER BY updated_at DESC, id ASC LIMIT ?`, limit)
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, rec *types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO lesson_embeddings
			(lesson_id, course_id, chunk_index, content, content_hash, vector, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lesson_id, chunk_index) DO UPDATE SET
			course_id = excluded.course_id,
			content = excluded.content,
			content_hash = excluded.content_hash,
			vector = excluded.vector,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		rec.LessonID, rec.CourseID, rec.ChunkIndex, rec.Content, rec.ContentHash,
		serializeVector(rec.Embedding), len(rec.Embedding), toNanos(rec.UpdatedAt))
	return opErr("upsert embedding", err)
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.db, rec)
}

func (s *SQLiteStorage) deleteBeyondWithQuerier(ctx context.Context, q querier, lessonID string, maxValidIndex int) (int, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM lesson_embeddings WHERE lesson_id = ? AND chunk_index > ?`, lessonID, maxValidIndex)
	if err != nil {
		return 0, opErr("delete beyond", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, opErr("delete beyond", err)
	}
	return int(n), nil
}

func (s *SQLiteStorage) DeleteBeyond(ctx context.Context, lessonID string, maxValidIndex int) (int, error) {
	return s.deleteBeyondWithQuerier(ctx, s.db, lessonID, maxValidIndex)
}

func (s *SQLiteStorage) DeleteLessonEmbeddings(ctx context.Context, lessonID string) (int, error) {
	return s.deleteBeyondWithQuerier(ctx, s.db, lessonID, -1)
}

func (s *SQLiteStorage) ChunkHashes(ctx context.Context, lessonID string, dimension int) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, content_hash FROM lesson_embeddings
		WHERE lesson_id = ? AND (? <= 0 OR dimension = ?)`, lessonID, dimension, dimension)
	if err != nil {
		return nil, opErr("chunk hashes", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStorage) Watermarks(ctx context.Context, lessonIDs []string, dimension int) (map[string]Watermark, error) {
	marks := make(map[string]Watermark, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return marks, nil
	}

	placeholders := make([]string, len(lessonIDs))
	args := []interface{}{dimension, dimension}
	for i, id := range lessonIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := `
		SELECT lesson_id, COUNT(*), SUM(CASE WHEN ? > 0 AND dimension != ? THEN 1 ELSE 0 END), MAX(updated_at)
		FROM lesson_embeddings
		WHERE lesson_id IN (` + strings.Join(placeholders, ", ") + `)
		GROUP BY lesson_id
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("watermarks", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var w Watermark
		var maxUpdated int64
		if err := rows.Scan(&w.LessonID, &w.Count, &w.Mismatched, &maxUpdated); err != nil {
			return nil, opErr("watermarks", err)
		}
		w.MaxUpdatedAt = fromNanos(maxUpdated)
		marks[w.LessonID] = w
	}
	return marks, opErr("watermarks", rows.Err())
}

// Search operations

func (s *SQLiteStorage) SearchNearest(ctx context.Context, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error) {
	results, err := searchNearest(ctx, s.db, query, scope, limit)
	if err != nil {
		return nil, opErr("search nearest", err)
	}
	return results, nil
}

// Status operations

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{Backend: "sqlite/" + BuildMode}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM lessons", &status.Lessons},
		{"SELECT COUNT(DISTINCT lesson_id) FROM lesson_embeddings", &status.IndexedLessons},
		{"SELECT COUNT(*) FROM lesson_embeddings", &status.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, opErr("status", err)
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}
