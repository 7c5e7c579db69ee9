package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultGeminiModel = "text-embedding-004"
	DefaultLocalModel  = "local-hashing"

	// Default endpoints
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// Dimensions
	OpenAIDimension = 1536
	JinaDimension   = 1024
	GeminiDimension = 768
	LocalDimension  = 384

	DefaultTimeout   = 30 * time.Second
	DefaultCacheSize = 10000

	// maxErrorBody bounds how much of an error response is kept
	maxErrorBody = 4096
)

// HTTPOptions configures the shared transport of remote providers
type HTTPOptions struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// httpTransport posts JSON to a provider and classifies failures
type httpTransport struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPTransport(name, defaultBaseURL string, opts HTTPOptions) *httpTransport {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t := &httpTransport{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return t
}

func (t *httpTransport) postJSON(ctx context.Context, path string, headers map[string]string, in, out any) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return &ProviderError{Provider: t.name, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Provider: t.name, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Network failures and client timeouts are worth another attempt
		return &ProviderError{Provider: t.name, Transient: true, Err: fmt.Errorf("api call: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{
			Provider:   t.name,
			StatusCode: resp.StatusCode,
			Transient:  transientStatus(resp.StatusCode, bodyBytes),
			Err:        fmt.Errorf("api error: %s", strings.TrimSpace(string(bodyBytes))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: t.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (t *httpTransport) close() {
	t.client.CloseIdleConnections()
}

// openAIResponse is shared by OpenAI-compatible embedding APIs
type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (r *openAIResponse) first(provider string) ([]float32, error) {
	if len(r.Data) == 0 || len(r.Data[0].Embedding) == 0 {
		return nil, &ProviderError{Provider: provider, Err: ErrNoEmbedding}
	}
	return r.Data[0].Embedding, nil
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint
type OpenAIProvider struct {
	apiKey    string
	model     string
	transport *httpTransport
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts HTTPOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		apiKey:    opts.APIKey,
		model:     model,
		transport: newHTTPTransport(ProviderOpenAI, DefaultOpenAIBaseURL, opts),
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string, dimensions int, _ TaskType) ([]float32, error) {
	reqBody := map[string]interface{}{
		"input":           text,
		"model":           o.model,
		"encoding_format": "float",
	}
	if dimensions > 0 {
		reqBody["dimensions"] = dimensions
	}

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := o.transport.postJSON(ctx, "/embeddings", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.first(ProviderOpenAI)
}

func (o *OpenAIProvider) Name() string  { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string { return o.model }

func (o *OpenAIProvider) Close() error {
	o.transport.close()
	return nil
}

// JinaProvider calls the Jina AI embeddings API
type JinaProvider struct {
	apiKey    string
	model     string
	transport *httpTransport
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts HTTPOptions) (*JinaProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	model := opts.Model
	if model == "" {
		model = DefaultJinaModel
	}
	return &JinaProvider{
		apiKey:    opts.APIKey,
		model:     model,
		transport: newHTTPTransport(ProviderJina, DefaultJinaBaseURL, opts),
	}, nil
}

func (j *JinaProvider) Embed(ctx context.Context, text string, dimensions int, task TaskType) ([]float32, error) {
	reqBody := map[string]interface{}{
		"input": []string{text},
		"model": j.model,
		"task":  jinaTask(task),
	}
	if dimensions > 0 {
		reqBody["dimensions"] = dimensions
	}

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + j.apiKey}
	if err := j.transport.postJSON(ctx, "/embeddings", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.first(ProviderJina)
}

func jinaTask(task TaskType) string {
	if task == TaskRetrievalQuery {
		return "retrieval.query"
	}
	return "retrieval.passage"
}

func (j *JinaProvider) Name() string  { return ProviderJina }
func (j *JinaProvider) Model() string { return j.model }

func (j *JinaProvider) Close() error {
	j.transport.close()
	return nil
}

// GeminiProvider calls the Gemini embedContent API
type GeminiProvider struct {
	apiKey    string
	model     string
	transport *httpTransport
}

// NewGeminiProvider creates a new Gemini embedder
func NewGeminiProvider(opts HTTPOptions) (*GeminiProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}
	model := strings.TrimPrefix(opts.Model, "models/")
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{
		apiKey:    opts.APIKey,
		model:     model,
		transport: newHTTPTransport(ProviderGemini, DefaultGeminiBaseURL, opts),
	}, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, text string, dimensions int, task TaskType) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model": "models/" + g.model,
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
		"taskType": string(task),
	}
	if dimensions > 0 {
		reqBody["outputDimensionality"] = dimensions
	}

	var resp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	path := "/models/" + url.PathEscape(g.model) + ":embedContent"
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := g.transport.postJSON(ctx, path, headers, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, &ProviderError{Provider: ProviderGemini, Err: ErrNoEmbedding}
	}
	return resp.Embedding.Values, nil
}

func (g *GeminiProvider) Name() string  { return ProviderGemini }
func (g *GeminiProvider) Model() string { return g.model }

func (g *GeminiProvider) Close() error {
	g.transport.close()
	return nil
}

// LocalProvider produces deterministic vectors offline by hashing word
// features into a fixed number of buckets. Texts that share words land
// close together, which is enough for development and tests.
type LocalProvider struct {
	model string
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{model: DefaultLocalModel}
}

func (l *LocalProvider) Embed(ctx context.Context, text string, dimensions int, _ TaskType) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		dimensions = LocalDimension
	}

	vector := make([]float32, dimensions)
	tokens := tokenize(text)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vector[int((sum>>1)%uint32(dimensions))] += sign
	}

	if len(tokens) == 0 {
		// No word features: fall back to raw content bits
		digest := sha256.Sum256([]byte(text))
		for i := range vector {
			vector[i] = float32(digest[i%len(digest)])/255.0 - 0.5
		}
	}

	return NormalizeVector(vector), nil
}

func (l *LocalProvider) Name() string  { return ProviderLocal }
func (l *LocalProvider) Model() string { return l.model }
func (l *LocalProvider) Close() error  { return nil }

// tokenize lowercases text and splits on anything that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
