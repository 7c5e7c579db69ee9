// Package config loads lessonrag settings from defaults, a TOML file, a
// .env file and LESSONRAG_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/lessonrag/internal/chunker"
	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/internal/retriever"
	"github.com/dshills/lessonrag/internal/storage"
)

// DefaultFile is read from the working directory when no path is given
const DefaultFile = "lessonrag.toml"

var (
	// ErrInvalidConfig wraps validation failures
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingAPIKey is returned for a remote provider without credentials
	ErrMissingAPIKey = errors.New("missing API key for embedding provider")
)

// Config is the complete application configuration
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Embedder  EmbedderConfig  `toml:"embedder"`
	Indexing  IndexingConfig  `toml:"indexing"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// StorageConfig selects the embedding and lesson backend
type StorageConfig struct {
	Driver string `toml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `toml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `toml:"dsn" validate:"required_if=Driver postgres"`
}

// EmbedderConfig selects the embedding provider
type EmbedderConfig struct {
	Provider          string  `toml:"provider" validate:"oneof=openai jina gemini local"`
	Model             string  `toml:"model"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url" validate:"omitempty,url"`
	Dimension         int     `toml:"dimension" validate:"min=1"`
	TimeoutSeconds    int     `toml:"timeout_seconds" validate:"min=1"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"min=0"`
	Burst             int     `toml:"burst" validate:"min=0"`
	CacheSize         int     `toml:"cache_size" validate:"min=0"`
}

// IndexingConfig holds run defaults; command flags override them
type IndexingConfig struct {
	MaxChars             int    `toml:"max_chars" validate:"min=64,max=32000"`
	MaxEmbeddingsPerRun  int    `toml:"max_embeddings_per_run" validate:"min=1"`
	Concurrency          int    `toml:"concurrency" validate:"min=1,max=5"`
	RetryAttempts        int    `toml:"retry_attempts" validate:"min=1,max=10"`
	SkipUnchangedLessons bool   `toml:"skip_unchanged_lessons"`
	TokenModel           string `toml:"token_model"`
}

// RetrievalConfig holds retrieval defaults
type RetrievalConfig struct {
	TopK int `toml:"top_k" validate:"min=1,max=50"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// MetricsConfig controls the Prometheus endpoint of `serve`
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   "lessonrag.db",
		},
		Embedder: EmbedderConfig{
			Provider:       embedder.ProviderLocal,
			TimeoutSeconds: int(embedder.DefaultTimeout / time.Second),
			CacheSize:      1000,
		},
		Indexing: IndexingConfig{
			MaxChars:            chunker.DefaultMaxChars,
			MaxEmbeddingsPerRun: indexer.DefaultMaxEmbeddingsPerRun,
			Concurrency:         indexer.DefaultConcurrency,
			RetryAttempts:       indexer.DefaultRetryAttempts,
		},
		Retrieval: RetrievalConfig{TopK: retriever.DefaultTopK},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path DefaultFile is used if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// A missing .env is normal; it never overrides the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays LESSONRAG_* variables and the provider API key
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LESSONRAG_DB_DRIVER":    &c.Storage.Driver,
		"LESSONRAG_DB_PATH":      &c.Storage.Path,
		"LESSONRAG_DATABASE_URL": &c.Storage.DSN,
		"LESSONRAG_PROVIDER":     &c.Embedder.Provider,
		"LESSONRAG_MODEL":        &c.Embedder.Model,
		"LESSONRAG_BASE_URL":     &c.Embedder.BaseURL,
		"LESSONRAG_LOG_LEVEL":    &c.Log.Level,
		"LESSONRAG_LOG_FORMAT":   &c.Log.Format,
		"LESSONRAG_METRICS_ADDR": &c.Metrics.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LESSONRAG_EMBEDDING_DIM":  &c.Embedder.Dimension,
		"LESSONRAG_MAX_EMBEDDINGS": &c.Indexing.MaxEmbeddingsPerRun,
		"LESSONRAG_CONCURRENCY":    &c.Indexing.Concurrency,
		"LESSONRAG_RETRY_ATTEMPTS": &c.Indexing.RetryAttempts,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	c.Embedder.Provider = strings.ToLower(c.Embedder.Provider)
	if c.Embedder.APIKey == "" {
		if env := embedder.APIKeyEnv(c.Embedder.Provider); env != "" {
			if v, ok := lookup(env); ok {
				c.Embedder.APIKey = v
			}
		}
	}
	return nil
}

// fillDerived sets values that depend on other settings
func (c *Config) fillDerived() {
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = embedder.DefaultDimension(c.Embedder.Provider)
	}
}

var validate = validator.New()

// Validate checks field constraints and provider credentials
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Namespace(), e.Tag()))
		}
		sort.Strings(msgs)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	if c.Embedder.Provider != embedder.ProviderLocal && c.Embedder.APIKey == "" {
		return fmt.Errorf("%w %s (set %s)", ErrMissingAPIKey, c.Embedder.Provider, embedder.APIKeyEnv(c.Embedder.Provider))
	}
	return nil
}

// StorageOptions returns the backend settings
func (c *Config) StorageOptions() storage.Config {
	return storage.Config{
		Driver:    c.Storage.Driver,
		Path:      c.Storage.Path,
		DSN:       c.Storage.DSN,
		Dimension: c.Embedder.Dimension,
	}
}

// EmbedderOptions returns the provider settings
func (c *Config) EmbedderOptions() embedder.Config {
	return embedder.Config{
		Provider:          c.Embedder.Provider,
		Model:             c.Embedder.Model,
		APIKey:            c.Embedder.APIKey,
		BaseURL:           c.Embedder.BaseURL,
		Timeout:           time.Duration(c.Embedder.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.Embedder.RequestsPerSecond,
		Burst:             c.Embedder.Burst,
	}
}

// IndexOptions returns run options seeded from the indexing section
func (c *Config) IndexOptions() indexer.Options {
	return indexer.Options{
		MaxChars:             c.Indexing.MaxChars,
		MaxEmbeddingsPerRun:  c.Indexing.MaxEmbeddingsPerRun,
		Concurrency:          c.Indexing.Concurrency,
		RetryAttempts:        c.Indexing.RetryAttempts,
		SkipUnchangedLessons: c.Indexing.SkipUnchangedLessons,
	}
}
