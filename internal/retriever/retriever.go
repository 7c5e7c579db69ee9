package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/metrics"
	"github.com/dshills/lessonrag/internal/storage"
	"github.com/dshills/lessonrag/pkg/types"
)

const (
	// DefaultTopK is the result count front ends use when none is given
	DefaultTopK = 5
	// MaxTopK caps a single retrieval
	MaxTopK = 50
)

var (
	// ErrEmptyQuery is returned for blank query text
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNoEmbedder is returned when the retriever has no query embedder
	ErrNoEmbedder = errors.New("embedder not initialized")
)

// QueryEmbedder turns query text into a vector of a fixed dimension.
// *embedder.Client satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embedder.Vector, error)
	Dimension() int
}

// Searcher runs the scoped nearest-neighbor query
type Searcher interface {
	SearchNearest(ctx context.Context, query []float32, scope storage.Scope, limit int) ([]types.RetrievedChunk, error)
}

// Retriever answers scoped nearest-chunk queries
type Retriever struct {
	store    Searcher
	embedder QueryEmbedder
	retry    embedder.RetryPolicy
	retrier  *embedder.Retrier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// Option configures a Retriever
type Option func(*Retriever)

// WithLogger sets the logger; the default is slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records retrieval outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithRetryPolicy replaces the short retry policy used for query embedding
func WithRetryPolicy(p embedder.RetryPolicy) Option {
	return func(r *Retriever) {
		r.retry = p
	}
}

// QueryRetryPolicy is the default policy for interactive query embedding:
// one retry after a short pause.
func QueryRetryPolicy() embedder.RetryPolicy {
	return embedder.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  embedder.BackoffMultiplier,
	}
}

// New creates a Retriever
func New(store Searcher, emb QueryEmbedder, opts ...Option) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: emb,
		retry:    QueryRetryPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.retrier = embedder.NewRetrier(queryEmbedding{emb}, r.retry)
	return r
}

// queryEmbedding adapts a QueryEmbedder to embedder.Embedder
type queryEmbedding struct {
	QueryEmbedder
}

func (q queryEmbedding) Embed(ctx context.Context, text string) (embedder.Vector, error) {
	return q.EmbedQuery(ctx, text)
}

// Retrieve returns up to topK chunks in scope ordered by ascending distance
// to query. A scope without indexed content or a topK <= 0 yields an empty
// slice; topK above MaxTopK is capped.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope storage.Scope, topK int) ([]types.RetrievedChunk, error) {
	start := time.Now()
	results, err := r.retrieve(ctx, query, scope, topK)
	r.metrics.ObserveRetrieval(len(results), err, time.Since(start))
	if err != nil {
		r.logger.Warn("retrieval failed", "error", err, "courses", len(scope.CourseIDs))
		return nil, err
	}
	r.logger.Debug("retrieval complete",
		"results", len(results),
		"courses", len(scope.CourseIDs),
		"lesson_id", scope.LessonID,
		"duration", time.Since(start))
	return results, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, scope storage.Scope, topK int) ([]types.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}

	scope = cleanScope(scope)
	topK = clampTopK(topK)
	if scope.Empty() || topK == 0 {
		return []types.RetrievedChunk{}, nil
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if want := r.embedder.Dimension(); len(vec) != want {
		return nil, &embedder.DimensionMismatchError{Want: want, Got: len(vec)}
	}

	results, err := r.store.SearchNearest(ctx, vec, scope, topK)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// embedQuery collapses concurrent identical queries into one provider call.
// The shared call does not inherit any one caller's cancellation; each
// caller stops waiting when its own ctx ends.
func (r *Retriever) embedQuery(ctx context.Context, query string) (embedder.Vector, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(query, func() (interface{}, error) {
		return r.retrier.Embed(shared, query)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(embedder.Vector), nil
	}
}

// cleanScope drops blank and repeated course ids
func cleanScope(scope storage.Scope) storage.Scope {
	seen := make(map[string]bool, len(scope.CourseIDs))
	ids := make([]string, 0, len(scope.CourseIDs))
	for _, id := range scope.CourseIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return storage.Scope{CourseIDs: ids, LessonID: strings.TrimSpace(scope.LessonID)}
}

func clampTopK(k int) int {
	if k <= 0 {
		return 0
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}
