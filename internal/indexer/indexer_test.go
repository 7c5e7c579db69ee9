package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/storage"
	"github.com/dshills/lessonrag/pkg/types"
)

const testDim = 64

// countingProvider wraps the local provider, counts calls and injects
// failures for texts containing a marker.
type countingProvider struct {
	local    *embedder.LocalProvider
	calls    atomic.Int32
	failOn   map[string]error
	wrongDim bool
	mu       sync.Mutex
	texts    []string
}

func newCountingProvider() *countingProvider {
	return &countingProvider{local: embedder.NewLocalProvider(), failOn: map[string]error{}}
}

func (p *countingProvider) Embed(ctx context.Context, text string, dims int, task embedder.TaskType) ([]float32, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()

	for marker, err := range p.failOn {
		if strings.Contains(text, marker) {
			return nil, err
		}
	}
	if p.wrongDim {
		dims--
	}
	return p.local.Embed(ctx, text, dims, task)
}

func (p *countingProvider) Name() string  { return "counting" }
func (p *countingProvider) Model() string { return "test-v1" }
func (p *countingProvider) Close() error  { return nil }

type fixture struct {
	store    *storage.SQLiteStorage
	provider *countingProvider
	indexer  *Indexer
}

func noSleepPolicy() embedder.RetryPolicy {
	return embedder.RetryPolicy{
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	}
}

func setupIndexer(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := newCountingProvider()
	client, err := embedder.NewClient(provider, testDim)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		provider: provider,
		indexer:  New(store, client, WithRetryPolicy(noSleepPolicy())),
	}
}

// paragraph returns a ~80 character paragraph built from tag
func paragraph(tag string) string {
	return strings.TrimSpace(strings.Repeat(tag+" ", 80/(len(tag)+1)))
}

func content(paragraphs ...string) string {
	return strings.Join(paragraphs, "\n\n")
}

// testOptions keeps each paragraph in its own chunk
func testOptions() Options {
	return Options{MaxChars: 100, MaxEmbeddingsPerRun: 10, Concurrency: 2, RetryAttempts: 3}
}

func (f *fixture) putLesson(t *testing.T, id, course, body string, updated time.Time) {
	t.Helper()
	require.NoError(t, f.store.UpsertLesson(context.Background(), &types.Lesson{
		ID: id, CourseID: course, Content: body, UpdatedAt: updated,
	}))
}

func (f *fixture) run(t *testing.T, sel Selector, opts Options) *types.RunResult {
	t.Helper()
	result, err := f.indexer.Run(context.Background(), sel, opts)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func counts(r *types.RunResult) [4]int {
	return [4]int{r.Total, r.Embedded, r.Skipped, r.Deleted}
}

func TestRun_EndToEndScenario(t *testing.T) {
	f := setupIndexer(t)
	past := time.Now().Add(-time.Hour)

	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo"), paragraph("charlie")), past)

	first := f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, [4]int{3, 3, 0, 0}, counts(first))
	assert.Empty(t, first.Errors)
	assert.Equal(t, types.StopNone, first.StoppedReason)

	// Chunk 1 changes and the lesson shrinks to two chunks
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("delta")), time.Now())

	second := f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, [4]int{2, 1, 1, 1}, counts(second))
	assert.Empty(t, second.Errors)

	hashes, err := f.store.ChunkHashes(context.Background(), "L", 0)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Equal(t, int32(4), f.provider.calls.Load())
}

func TestRun_Idempotent(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo"), paragraph("charlie")), time.Now())
	ctx := context.Background()

	f.run(t, ByLesson("L"), testOptions())
	before, err := f.store.ChunkHashes(ctx, "L", 0)
	require.NoError(t, err)

	second := f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, [4]int{3, 0, 3, 0}, counts(second))
	assert.Equal(t, int32(3), f.provider.calls.Load())

	after, err := f.store.ChunkHashes(ctx, "L", 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_ChangeIsolation(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo"), paragraph("charlie")), time.Now())
	f.run(t, ByLesson("L"), testOptions())

	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("echo"), paragraph("charlie")), time.Now())
	result := f.run(t, ByLesson("L"), testOptions())

	assert.Equal(t, [4]int{3, 1, 2, 0}, counts(result))
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	assert.Equal(t, paragraph("echo"), f.provider.texts[len(f.provider.texts)-1])
}

func TestRun_ShrinkToEmptyDeletesAll(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo")), time.Now())
	f.run(t, ByLesson("L"), testOptions())

	f.putLesson(t, "L", "c1", "   ", time.Now())
	result := f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, [4]int{0, 0, 0, 2}, counts(result))

	hashes, err := f.store.ChunkHashes(context.Background(), "L", 0)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRun_Force(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo"), paragraph("charlie")), time.Now())
	f.run(t, ByLesson("L"), testOptions())

	opts := testOptions()
	opts.Force = true
	result := f.run(t, ByLesson("L"), opts)
	assert.Equal(t, [4]int{3, 3, 0, 0}, counts(result))
	assert.Equal(t, int32(6), f.provider.calls.Load())
}

func TestRun_DryRun(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo"), paragraph("charlie")), time.Now())
	f.run(t, ByLesson("L"), testOptions())

	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("delta")), time.Now())

	opts := testOptions()
	opts.DryRun = true
	result := f.run(t, ByLesson("L"), opts)

	assert.True(t, result.DryRun)
	assert.Equal(t, [4]int{2, 1, 1, 1}, counts(result))
	assert.Greater(t, result.ProjectedTokens, 0)

	// Nothing was called or written
	assert.Equal(t, int32(3), f.provider.calls.Load())
	hashes, err := f.store.ChunkHashes(context.Background(), "L", 0)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
}

func TestRun_DryRunWithoutEmbedder(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo")), time.Now())

	idx := New(f.store, nil)
	opts := testOptions()
	opts.DryRun = true
	result, err := idx.Run(context.Background(), ByLesson("L"), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Embedded)

	_, err = idx.Run(context.Background(), ByLesson("L"), testOptions())
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestRun_BudgetAcrossLessons(t *testing.T) {
	f := setupIndexer(t)
	now := time.Now()
	for _, id := range []string{"l1", "l2", "l3"} {
		f.putLesson(t, id, "c1", content(paragraph(id+"a"), paragraph(id+"b"), paragraph(id+"c")), now)
	}

	opts := testOptions()
	opts.MaxEmbeddingsPerRun = 4
	result := f.run(t, ByCourse("c1"), opts)

	assert.LessOrEqual(t, f.provider.calls.Load(), int32(4))
	assert.Equal(t, types.StopBudgetExhausted, result.StoppedReason)
	assert.Equal(t, 3, result.LessonsSelected)
	assert.Equal(t, 2, result.LessonsProcessed)
	assert.Equal(t, 4, result.Embedded)
	assert.Equal(t, 2, result.Deferred)

	require.Len(t, result.Lessons, 2)
	assert.Equal(t, 3, result.Lessons[0].Embedded)
	assert.Equal(t, 1, result.Lessons[1].Embedded)
	assert.Equal(t, types.StopBudgetExhausted, result.Lessons[1].StoppedReason)

	// The third lesson was never touched
	hashes, err := f.store.ChunkHashes(context.Background(), "l3", 0)
	require.NoError(t, err)
	assert.Empty(t, hashes)

	// A rerun resumes where the budget stopped
	resumed := f.run(t, ByCourse("c1"), testOptions())
	assert.Equal(t, 5, resumed.Embedded)
	assert.Equal(t, 4, resumed.Skipped)
	assert.Equal(t, types.StopNone, resumed.StoppedReason)
}

func TestRun_BudgetCountsRetries(t *testing.T) {
	f := setupIndexer(t)
	f.provider.failOn["alpha"] = &embedder.ProviderError{
		Provider: "counting", StatusCode: 503, Transient: true, Err: errors.New("unavailable"),
	}
	f.putLesson(t, "L", "c1", paragraph("alpha"), time.Now())

	opts := testOptions()
	opts.MaxEmbeddingsPerRun = 2
	opts.RetryAttempts = 5
	result := f.run(t, ByLesson("L"), opts)

	assert.Equal(t, int32(2), f.provider.calls.Load())
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].ChunkIndex)
	assert.Contains(t, result.Errors[0].Message, embedder.ErrBudgetExhausted.Error())
	assert.Equal(t, types.StopBudgetExhausted, result.StoppedReason)
}

func TestRun_TransientRetried(t *testing.T) {
	f := setupIndexer(t)
	f.provider.failOn["alpha"] = &embedder.ProviderError{
		Provider: "counting", StatusCode: 429, Transient: true, Err: errors.New("slow down"),
	}
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo")), time.Now())

	result := f.run(t, ByLesson("L"), testOptions())
	// bravo once, alpha three times
	assert.Equal(t, int32(4), f.provider.calls.Load())
	assert.Equal(t, 1, result.Embedded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, embedder.ErrRetriesExhausted.Error())
	assert.Equal(t, types.StopNone, result.StoppedReason)
}

func TestRun_DimensionGuard(t *testing.T) {
	f := setupIndexer(t)
	f.provider.wrongDim = true
	f.putLesson(t, "L", "c1", paragraph("alpha"), time.Now())

	result := f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Embedded)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "dimension")
	// Terminal: not retried
	assert.Equal(t, int32(1), f.provider.calls.Load())

	hashes, err := f.store.ChunkHashes(context.Background(), "L", 0)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRun_DimensionChangeReembeds(t *testing.T) {
	f := setupIndexer(t)
	ctx := context.Background()
	f.putLesson(t, "l1", "c1", content(paragraph("alpha"), paragraph("bravo")), time.Now().Add(-time.Hour))
	first := f.run(t, ByCourse("c1"), testOptions())
	require.Equal(t, 2, first.Embedded)

	client, err := embedder.NewClient(embedder.NewLocalProvider(), testDim/2)
	require.NoError(t, err)
	narrow := New(f.store, client, WithRetryPolicy(noSleepPolicy()))

	opts := testOptions()
	opts.SkipUnchangedLessons = true
	result, err := narrow.Run(ctx, ByCourse("c1"), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.LessonsUnchanged, "rows of another dimension are stale")
	assert.Equal(t, result.Total, result.Embedded)
	assert.Equal(t, 2, result.Embedded)
	assert.Equal(t, 0, result.Skipped)

	// Settled at the new dimension
	result, err = narrow.Run(ctx, ByCourse("c1"), testOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Embedded)
	assert.Equal(t, 2, result.Skipped)

	query, err := client.Embed(ctx, paragraph("alpha"))
	require.NoError(t, err)
	chunks, err := f.store.SearchNearest(ctx, query, storage.Scope{CourseIDs: []string{"c1"}}, 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	hashes, err := f.store.ChunkHashes(ctx, "l1", testDim)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRun_LessonFailureDoesNotAbortBatch(t *testing.T) {
	f := setupIndexer(t)
	f.provider.failOn["poison"] = &embedder.ProviderError{
		Provider: "counting", StatusCode: 401, Err: errors.New("unauthorized"),
	}
	now := time.Now()
	f.putLesson(t, "l1", "c1", paragraph("alpha"), now)
	f.putLesson(t, "l2", "c1", content(paragraph("poison"), paragraph("bravo")), now)
	f.putLesson(t, "l3", "c1", paragraph("charlie"), now)

	result := f.run(t, ByCourse("c1"), testOptions())
	assert.Equal(t, 3, result.LessonsProcessed)
	assert.Equal(t, 3, result.Embedded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.PartiallySucceeded())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "l2", result.Errors[0].LessonID)
	assert.Equal(t, 0, result.Errors[0].ChunkIndex)
	// Terminal errors are not retried
	assert.Equal(t, int32(4), f.provider.calls.Load())
}

func TestRun_SkipUnchangedLessons(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "l1", "c1", paragraph("alpha"), time.Now().Add(-time.Hour))
	f.putLesson(t, "l2", "c1", paragraph("bravo"), time.Now().Add(-time.Hour))
	f.run(t, ByCourse("c1"), testOptions())

	opts := testOptions()
	opts.SkipUnchangedLessons = true
	result := f.run(t, ByCourse("c1"), opts)
	assert.Equal(t, 2, result.LessonsSelected)
	assert.Equal(t, 2, result.LessonsUnchanged)
	assert.Equal(t, 0, result.LessonsProcessed)

	f.putLesson(t, "l2", "c1", paragraph("delta"), time.Now().Add(time.Hour))
	result = f.run(t, ByCourse("c1"), opts)
	assert.Equal(t, 1, result.LessonsUnchanged)
	assert.Equal(t, 1, result.LessonsProcessed)
	assert.Equal(t, 1, result.Embedded)
}

func TestRun_RecentSelector(t *testing.T) {
	f := setupIndexer(t)
	base := time.Now().Add(-time.Hour)
	f.putLesson(t, "old", "c1", paragraph("alpha"), base)
	f.putLesson(t, "mid", "c1", paragraph("bravo"), base.Add(time.Minute))
	f.putLesson(t, "new", "c2", paragraph("charlie"), base.Add(2*time.Minute))

	result := f.run(t, MostRecent(2), testOptions())
	require.Len(t, result.Lessons, 2)
	assert.Equal(t, "new", result.Lessons[0].LessonID)
	assert.Equal(t, "mid", result.Lessons[1].LessonID)
}

func TestRun_MissingLesson(t *testing.T) {
	f := setupIndexer(t)
	result := f.run(t, ByLesson("nope"), testOptions())
	assert.Equal(t, 0, result.LessonsSelected)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nope", result.Errors[0].LessonID)
}

func TestRun_LessonBusy(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", paragraph("alpha"), time.Now())

	require.True(t, f.indexer.guard.TryAcquire("L"))
	result := f.run(t, ByLesson("L"), testOptions())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrLessonBusy.Error(), result.Errors[0].Message)
	assert.Equal(t, int32(0), f.provider.calls.Load())

	f.indexer.guard.Release("L")
	result = f.run(t, ByLesson("L"), testOptions())
	assert.Equal(t, 1, result.Embedded)
}

func TestRun_ConfigErrors(t *testing.T) {
	f := setupIndexer(t)
	ctx := context.Background()

	opts := testOptions()
	opts.Concurrency = 9
	_, err := f.indexer.Run(ctx, ByLesson("L"), opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = testOptions()
	opts.MaxEmbeddingsPerRun = -1
	_, err = f.indexer.Run(ctx, ByLesson("L"), opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = f.indexer.Run(ctx, Selector{LessonID: "a", CourseID: "b"}, testOptions())
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = f.indexer.Run(ctx, Selector{}, testOptions())
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestPurge(t *testing.T) {
	f := setupIndexer(t)
	f.putLesson(t, "L", "c1", content(paragraph("alpha"), paragraph("bravo")), time.Now())
	f.run(t, ByLesson("L"), testOptions())

	n, err := f.indexer.Purge(context.Background(), "L")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.indexer.Purge(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrMissingLessonID)
}
