package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/lessonrag/internal/chunker"
	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/metrics"
	"github.com/dshills/lessonrag/internal/storage"
	"github.com/dshills/lessonrag/pkg/types"
)

// Store is the persistence the indexer needs: the read-only lesson store
// and the embedding table it reconciles.
type Store interface {
	storage.EmbeddingStore
	storage.LessonReader
}

// Indexer coordinates the indexing pipeline: select -> chunk -> hash -> embed -> reconcile
type Indexer struct {
	store    Store
	embedder embedder.Embedder
	retry    embedder.RetryPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	guard    *LessonGuard
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger; the default is slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithMetrics records run outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) {
		idx.metrics = m
	}
}

// WithRetryPolicy sets the backoff used for provider calls. MaxAttempts is
// always taken from Options.RetryAttempts.
func WithRetryPolicy(p embedder.RetryPolicy) Option {
	return func(idx *Indexer) {
		idx.retry = p
	}
}

// WithGuard shares a lesson guard between indexers
func WithGuard(g *LessonGuard) Option {
	return func(idx *Indexer) {
		if g != nil {
			idx.guard = g
		}
	}
}

// New creates an Indexer. emb may be nil for an indexer that only does
// dry runs and purges.
func New(store Store, emb embedder.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: emb,
		retry:    embedder.DefaultRetryPolicy(),
		logger:   slog.Default(),
		guard:    &LessonGuard{},
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Run indexes the lessons picked by sel. Per-chunk and per-lesson failures
// are collected in the result; only invalid options, an invalid selector, a
// missing embedder or a failed lesson listing are returned as errors.
func (idx *Indexer) Run(ctx context.Context, sel Selector, opts Options) (*types.RunResult, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if !opts.DryRun && idx.embedder == nil {
		return nil, ErrNoEmbedder
	}

	start := time.Now()
	result := &types.RunResult{
		RunID:   uuid.NewString(),
		DryRun:  opts.DryRun,
		Errors:  []types.LessonError{},
		Lessons: []types.LessonResult{},
	}
	logger := idx.logger.With("run_id", result.RunID)

	lessons, err := idx.selectLessons(ctx, sel, result)
	if err != nil {
		return nil, err
	}
	result.LessonsSelected = len(lessons)

	if opts.SkipUnchangedLessons && !opts.Force {
		lessons = idx.dropUnchanged(ctx, logger, lessons, result)
	}

	logger.Info("indexing run started",
		"selector", sel.String(),
		"lessons", len(lessons),
		"dry_run", opts.DryRun,
		"force", opts.Force,
		"budget", opts.MaxEmbeddingsPerRun,
		"concurrency", opts.Concurrency)

	budget := NewBudget(opts.MaxEmbeddingsPerRun)
	retrier := idx.newRetrier(logger, opts, budget)

	for i, lesson := range lessons {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		// Halt once the budget is spent; later lessons stay untouched
		if budget.Exhausted() {
			result.StoppedReason = types.StopBudgetExhausted
			logger.Warn("embedding budget exhausted",
				"remaining_lessons", len(lessons)-i)
			break
		}

		if !idx.guard.TryAcquire(lesson.ID) {
			result.Errors = append(result.Errors, lessonError(lesson.ID, types.NoChunk, ErrLessonBusy))
			continue
		}
		lr := idx.indexLesson(ctx, lesson, opts, budget, retrier)
		idx.guard.Release(lesson.ID)

		idx.record(logger, lr)
		result.Add(lr)
	}

	result.Duration = time.Since(start)
	idx.metrics.ObserveRun(string(result.StoppedReason), len(result.Errors), budget.Remaining(), result.Duration)

	logger.Info("indexing run finished",
		"processed", result.LessonsProcessed,
		"unchanged", result.LessonsUnchanged,
		"embedded", result.Embedded,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
		"failed", result.Failed,
		"stopped_reason", string(result.StoppedReason),
		"errors", len(result.Errors),
		"duration", result.Duration)

	return result, nil
}

// Purge removes every stored embedding of a lesson
func (idx *Indexer) Purge(ctx context.Context, lessonID string) (int, error) {
	if lessonID == "" {
		return 0, types.ErrMissingLessonID
	}
	if !idx.guard.TryAcquire(lessonID) {
		return 0, ErrLessonBusy
	}
	defer idx.guard.Release(lessonID)

	n, err := idx.store.DeleteLessonEmbeddings(ctx, lessonID)
	if err != nil {
		return 0, err
	}
	idx.metrics.AddChunks(metrics.OutcomeDeleted, n)
	idx.logger.Info("lesson embeddings purged", "lesson_id", lessonID, "deleted", n)
	return n, nil
}

// selectLessons resolves the selector against the lesson store. A missing
// single lesson is recorded on result rather than failing the run.
func (idx *Indexer) selectLessons(ctx context.Context, sel Selector, result *types.RunResult) ([]*types.Lesson, error) {
	switch {
	case sel.LessonID != "":
		lesson, err := idx.store.GetLesson(ctx, sel.LessonID)
		if errors.Is(err, storage.ErrNotFound) {
			result.Errors = append(result.Errors, lessonError(sel.LessonID, types.NoChunk, err))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load lesson: %w", err)
		}
		return []*types.Lesson{lesson}, nil
	case sel.CourseID != "":
		lessons, err := idx.store.ListLessonsByCourse(ctx, sel.CourseID)
		if err != nil {
			return nil, fmt.Errorf("failed to list course lessons: %w", err)
		}
		return lessons, nil
	default:
		lessons, err := idx.store.ListRecentLessons(ctx, sel.Recent)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent lessons: %w", err)
		}
		return lessons, nil
	}
}

// dimension is the vector length the embedder produces, or 0 when unknown.
// Stored rows of another length never count as unchanged.
func (idx *Indexer) dimension() int {
	if d, ok := idx.embedder.(interface{ Dimension() int }); ok {
		return d.Dimension()
	}
	return 0
}

// dropUnchanged removes lessons whose stored watermark is at or after the
// lesson's own UpdatedAt and whose rows all match the embedder dimension. The filter is an optimization: if watermarks
// cannot be read every lesson is kept.
func (idx *Indexer) dropUnchanged(ctx context.Context, logger *slog.Logger, lessons []*types.Lesson, result *types.RunResult) []*types.Lesson {
	if len(lessons) == 0 {
		return lessons
	}
	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}

	marks, err := idx.store.Watermarks(ctx, ids, idx.dimension())
	if err != nil {
		logger.Warn("watermark prefilter skipped", "error", err)
		return lessons
	}

	kept := make([]*types.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if w, ok := marks[l.ID]; ok && w.Count > 0 && w.Mismatched == 0 && !w.MaxUpdatedAt.Before(l.UpdatedAt) {
			result.LessonsUnchanged++
			continue
		}
		kept = append(kept, l)
	}
	return kept
}

// newRetrier builds the per-run retrier. Every retry is charged to the
// budget so provider calls never exceed it.
func (idx *Indexer) newRetrier(logger *slog.Logger, opts Options, budget *Budget) *embedder.Retrier {
	if idx.embedder == nil {
		return nil
	}
	policy := idx.retry
	policy.MaxAttempts = opts.RetryAttempts
	policy.BeforeRetry = func(int) error {
		if !budget.TryTake() {
			return embedder.ErrBudgetExhausted
		}
		return nil
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		idx.metrics.IncRetry()
		logger.Debug("retrying embedding call", "attempt", attempt, "delay", delay, "error", err)
	}
	return embedder.NewRetrier(idx.embedder, policy)
}

func (idx *Indexer) record(logger *slog.Logger, lr types.LessonResult) {
	idx.metrics.AddChunks(metrics.OutcomeEmbedded, lr.Embedded)
	idx.metrics.AddChunks(metrics.OutcomeSkipped, lr.Skipped)
	idx.metrics.AddChunks(metrics.OutcomeDeleted, lr.Deleted)
	idx.metrics.AddChunks(metrics.OutcomeFailed, lr.Failed)
	idx.metrics.AddChunks(metrics.OutcomeDeferred, lr.Deferred)

	attrs := []any{
		"lesson_id", lr.LessonID,
		"total", lr.Total,
		"embedded", lr.Embedded,
		"skipped", lr.Skipped,
		"deleted", lr.Deleted,
	}
	if len(lr.Errors) > 0 {
		attrs = append(attrs, "failed", lr.Failed, "first_error", lr.Errors[0].Message)
		logger.Warn("lesson indexed with errors", attrs...)
		return
	}
	logger.Info("lesson indexed", attrs...)
}

func lessonError(lessonID string, chunkIndex int, err error) types.LessonError {
	return types.LessonError{LessonID: lessonID, ChunkIndex: chunkIndex, Message: err.Error()}
}

// tokensFor sums the token counts of the given chunks
func tokensFor(counter chunker.TokenCounter, chunks []pendingChunk) int {
	total := 0
	for _, p := range chunks {
		total += counter.Count(p.chunk.Content)
	}
	return total
}
