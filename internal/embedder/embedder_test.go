package embedder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns scripted responses and counts calls
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	dimension int
	errs      []error
	lastTask  TaskType
}

func (f *fakeProvider) Embed(_ context.Context, text string, dimensions int, task TaskType) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastTask = task
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	dim := f.dimension
	if dim == 0 {
		dim = dimensions
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text) + i)
	}
	return v, nil
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }
func (f *fakeProvider) Close() error  { return nil }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, 8)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = NewClient(&fakeProvider{}, 0)
	assert.ErrorIs(t, err, ErrInvalidDimension)

	c, err := NewClient(&fakeProvider{}, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Dimension())
	assert.Equal(t, "fake", c.Provider())
	assert.Equal(t, "fake-model", c.Model())
}

func TestClient_Embed(t *testing.T) {
	p := &fakeProvider{}
	c, err := NewClient(p, 8)
	require.NoError(t, err)

	v, err := c.Embed(context.Background(), "cells")
	require.NoError(t, err)
	assert.Equal(t, 8, v.Dim())
	assert.Equal(t, TaskRetrievalDocument, p.lastTask)
}

func TestClient_DimensionMismatch(t *testing.T) {
	p := &fakeProvider{dimension: 5}
	c, err := NewClient(p, 8)
	require.NoError(t, err)

	v, err := c.Embed(context.Background(), "cells")
	assert.Nil(t, v)

	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 8, dm.Want)
	assert.Equal(t, 5, dm.Got)
	assert.False(t, IsTransient(err))
}

func TestClient_EmptyText(t *testing.T) {
	p := &fakeProvider{}
	c, err := NewClient(p, 8)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, p.callCount())
}

func TestClient_EmbedQueryCache(t *testing.T) {
	p := &fakeProvider{}
	cache := NewCache(10)
	c, err := NewClient(p, 4, WithCache(cache))
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := c.EmbedQuery(ctx, "what is osmosis")
	require.NoError(t, err)
	assert.Equal(t, TaskRetrievalQuery, p.lastTask)

	v1[0] = 999

	v2, err := c.EmbedQuery(ctx, "what is osmosis")
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount(), "second query should hit the cache")
	assert.NotEqual(t, float32(999), v2[0], "cached vector must not be mutated by callers")
	assert.Equal(t, 1, cache.Size())
}

func TestClient_EmbedQueryErrorNotCached(t *testing.T) {
	p := &fakeProvider{errs: []error{&ProviderError{Provider: "fake", Transient: true, Err: errors.New("busy")}}}
	cache := NewCache(10)
	c, err := NewClient(p, 4, WithCache(cache))
	require.NoError(t, err)

	_, err = c.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Size())
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", Vector{1})
	cache.Set("b", Vector{2})
	cache.Set("c", Vector{3})

	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	v, ok := cache.Get("c")
	require.True(t, ok)
	assert.Equal(t, Vector{3}, v)

	cache.Clear()
	assert.Equal(t, 0, cache.Size())

	assert.NotNil(t, NewCache(0))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient provider", &ProviderError{Transient: true, Err: errors.New("429")}, true},
		{"terminal provider", &ProviderError{StatusCode: 401, Err: errors.New("bad key")}, false},
		{"wrapped transient", errors.Join(errors.New("ctx"), &ProviderError{Transient: true, Err: errors.New("x")}), true},
		{"dimension mismatch", &DimensionMismatchError{Want: 3, Got: 2}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"budget", ErrBudgetExhausted, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "openai", StatusCode: 429, Transient: true, Err: errors.New("slow down")}
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "429")

	err = &ProviderError{Provider: "openai", Err: errors.New("bad")}
	assert.Contains(t, err.Error(), "terminal")
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
