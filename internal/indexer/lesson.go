package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/lessonrag/internal/chunker"
	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/workpool"
	"github.com/dshills/lessonrag/pkg/types"
)

type pendingChunk struct {
	chunk types.Chunk
	hash  string
}

// indexLesson runs one lesson end to end. Reconciliation runs after the
// embedding phase whatever its outcome.
func (idx *Indexer) indexLesson(ctx context.Context, lesson *types.Lesson, opts Options,
	budget *Budget, retrier *embedder.Retrier) types.LessonResult {

	lr := types.LessonResult{LessonID: lesson.ID}
	if err := lesson.Validate(); err != nil {
		lr.Errors = append(lr.Errors, lessonError(lesson.ID, types.NoChunk, err))
		return lr
	}

	chunks := chunker.Chunk(chunker.LessonText(lesson.Title, lesson.Content), opts.MaxChars)
	lr.Total = len(chunks)

	stored, err := idx.store.ChunkHashes(ctx, lesson.ID, idx.dimension())
	if err != nil {
		lr.Errors = append(lr.Errors, lessonError(lesson.ID, types.NoChunk, err))
		return lr
	}

	queued := make([]pendingChunk, 0, len(chunks))
	for _, c := range chunks {
		hash := chunker.Hash(c.Content)
		if prev, ok := stored[c.Index]; ok && prev == hash && !opts.Force {
			lr.Skipped++
			continue
		}
		if !budget.TryTake() {
			lr.Deferred++
			lr.StoppedReason = types.StopBudgetExhausted
			continue
		}
		queued = append(queued, pendingChunk{chunk: c, hash: hash})
	}

	if opts.DryRun {
		lr.Embedded = len(queued)
		lr.ProjectedTokens = tokensFor(opts.TokenCounter, queued)
		for i := range stored {
			if i >= len(chunks) {
				lr.Deleted++
			}
		}
		return lr
	}

	tasks := make([]workpool.Task, len(queued))
	for i, p := range queued {
		tasks[i] = func(ctx context.Context) error {
			vec, err := retrier.Embed(ctx, p.chunk.Content)
			if err != nil {
				return err
			}
			return idx.store.UpsertEmbedding(ctx, &types.EmbeddingRecord{
				LessonID:    lesson.ID,
				CourseID:    lesson.CourseID,
				ChunkIndex:  p.chunk.Index,
				Content:     p.chunk.Content,
				ContentHash: p.hash,
				Embedding:   vec,
				UpdatedAt:   time.Now().UTC(),
			})
		}
	}

	for i, err := range workpool.Run(ctx, opts.Concurrency, tasks) {
		if err == nil {
			lr.Embedded++
			continue
		}
		lr.Failed++
		lr.Errors = append(lr.Errors, lessonError(lesson.ID, queued[i].chunk.Index, err))
		if errors.Is(err, embedder.ErrBudgetExhausted) {
			lr.StoppedReason = types.StopBudgetExhausted
		}
	}

	deleted, err := idx.store.DeleteBeyond(ctx, lesson.ID, len(chunks)-1)
	if err != nil {
		lr.Errors = append(lr.Errors, lessonError(lesson.ID, types.NoChunk, err))
		return lr
	}
	lr.Deleted = deleted
	return lr
}
