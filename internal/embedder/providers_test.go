package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIHandler(t *testing.T, dims int, seen *map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if seen != nil {
			*seen = body
		}

		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = 0.1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  []map[string]interface{}{{"embedding": vec, "index": 0}},
			"model": "test-model",
		})
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(openAIHandler(t, 8, &body))
	defer srv.Close()

	p, err := NewOpenAIProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.Embed(context.Background(), "hello", 8, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, "hello", body["input"])
	assert.Equal(t, DefaultOpenAIModel, body["model"])
	assert.Equal(t, float64(8), body["dimensions"])
	assert.Equal(t, ProviderOpenAI, p.Name())
}

func TestJinaProvider_TaskHint(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(openAIHandler(t, 4, &body))
	defer srv.Close()

	p, err := NewJinaProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "q", 4, TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, "retrieval.query", body["task"])

	_, err = p.Embed(context.Background(), "d", 4, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, "retrieval.passage", body["task"])
	assert.Equal(t, []interface{}{"d"}, body["input"])
}

func TestGeminiProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-embedding-004:embedContent", r.URL.Path)
		assert.Equal(t, "gem-key", r.Header.Get("x-goog-api-key"))

		var body struct {
			TaskType             string `json:"taskType"`
			OutputDimensionality int    `json:"outputDimensionality"`
			Content              struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "RETRIEVAL_DOCUMENT", body.TaskType)
		assert.Equal(t, 3, body.OutputDimensionality)
		require.Len(t, body.Content.Parts, 1)
		assert.Equal(t, "lesson text", body.Content.Parts[0].Text)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "gem-key", Model: "models/text-embedding-004"})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "lesson text", 3, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-004", p.Model())
}

func TestProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, true},
		{"server error", http.StatusInternalServerError, "oops", true},
		{"bad gateway", http.StatusBadGateway, "", true},
		{"timeout", http.StatusRequestTimeout, "", true},
		{"unauthorized", http.StatusUnauthorized, "invalid api key", false},
		{"forbidden", http.StatusForbidden, "", false},
		{"bad request", http.StatusBadRequest, "input too long", false},
		{"quota body", http.StatusBadRequest, `{"status":"RESOURCE_EXHAUSTED"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)

			_, err = p.Embed(context.Background(), "x", 4, TaskRetrievalDocument)
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.transient, pe.Transient)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestProvider_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "x", 4, TaskRetrievalDocument)
	assert.ErrorIs(t, err, ErrNoEmbedding)
	assert.False(t, IsTransient(err))
}

func TestProvider_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := NewOpenAIProvider(HTTPOptions{BaseURL: url, APIKey: "k", Timeout: time.Second})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "x", 4, TaskRetrievalDocument)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestProvider_RetriesThroughClient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{1, 0, 0, 0}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(HTTPOptions{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 1000, Burst: 10})
	require.NoError(t, err)
	client, err := NewClient(p, 4)
	require.NoError(t, err)

	policy := DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	vec, err := NewRetrier(client, policy).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 0, 0, 0}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	a1, err := p.Embed(ctx, "The cell membrane controls transport", 256, TaskRetrievalDocument)
	require.NoError(t, err)
	a2, err := p.Embed(ctx, "The cell membrane controls transport", 256, TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Len(t, a1, 256)
	assert.Equal(t, a1, a2, "local vectors are deterministic")

	related, err := p.Embed(ctx, "cell membrane transport", 256, TaskRetrievalQuery)
	require.NoError(t, err)
	unrelated, err := p.Embed(ctx, "volcanoes erupt magma", 256, TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Greater(t, dot(a1, related), dot(a1, unrelated))

	punct, err := p.Embed(ctx, "?!", 16, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, punct, 16)

	def, err := p.Embed(ctx, "x", 0, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, def, LocalDimension)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
