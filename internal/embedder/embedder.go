package embedder

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/lessonrag/internal/chunker"
)

// TaskType hints the provider about how a vector will be used
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Provider is a single-call embedding backend
type Provider interface {
	// Embed returns the raw vector for text. Implementations classify
	// failures as *ProviderError.
	Embed(ctx context.Context, text string, dimensions int, task TaskType) ([]float32, error)

	// Name returns the provider name
	Name() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the provider
	Close() error
}

// Embedder produces validated document vectors
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// Vector is an embedding whose length has been checked against the
// configured dimensionality.
type Vector []float32

// Dim returns the vector length
func (v Vector) Dim() int {
	return len(v)
}

// Client wraps a Provider and enforces the configured dimensionality on
// every response.
type Client struct {
	provider  Provider
	dimension int
	cache     *Cache
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCache caches query vectors by content hash
func WithCache(cache *Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a client expecting vectors of length dimension
func NewClient(provider Provider, dimension int, opts ...ClientOption) (*Client, error) {
	if provider == nil {
		return nil, ErrNoProviderEnabled
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	c := &Client{provider: provider, dimension: dimension}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed embeds lesson content
func (c *Client) Embed(ctx context.Context, text string) (Vector, error) {
	return c.embed(ctx, text, TaskRetrievalDocument)
}

// EmbedQuery embeds a retrieval query, consulting the cache when configured
func (c *Client) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	if c.cache == nil {
		return c.embed(ctx, text, TaskRetrievalQuery)
	}

	key := cacheKey(TaskRetrievalQuery, text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.embed(ctx, text, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v)
	return v, nil
}

func (c *Client) embed(ctx context.Context, text string, task TaskType) (Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	raw, err := c.provider.Embed(ctx, text, c.dimension, task)
	if err != nil {
		return nil, err
	}
	if len(raw) != c.dimension {
		return nil, &DimensionMismatchError{Want: c.dimension, Got: len(raw)}
	}
	return Vector(raw), nil
}

// Dimension returns the configured dimensionality
func (c *Client) Dimension() int {
	return c.dimension
}

// Provider returns the provider name
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Model returns the provider model
func (c *Client) Model() string {
	return c.provider.Model()
}

// Close releases the provider
func (c *Client) Close() error {
	return c.provider.Close()
}

func cacheKey(task TaskType, text string) string {
	return string(task) + ":" + chunker.Hash(text)
}

// Cache provides in-memory LRU caching of vectors
type Cache struct {
	cache *lru.Cache[string, Vector]
}

// NewCache creates a new vector cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, Vector](maxLen)
	if err != nil {
		cache, _ = lru.New[string, Vector](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate the entry
func (c *Cache) Get(key string) (Vector, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of v
func (c *Cache) Set(key string, v Vector) {
	stored := make(Vector, len(v))
	copy(stored, v)
	c.cache.Add(key, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}
