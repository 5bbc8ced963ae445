package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/newsprism/backend/internal/pipeline"
)

type memoryCache struct {
	data map[string][]float32
	sets int
}

func (m *memoryCache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) SetEmbedding(_ context.Context, key string, embedding []float32, _ time.Duration) error {
	m.data[key] = embedding
	m.sets++
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cache EmbeddingCache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL + "/v1",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Temperature:    0.3,
		MaxTokens:      2000,
		Timeout:        5 * time.Second,
	}, cache, nil)
	c.retryConfig.InitialDelay = time.Millisecond
	c.retryConfig.MaxDelay = 5 * time.Millisecond
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestComplete(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"topic_title\":\"t\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}, nil)

	resp, err := c.Complete(context.Background(), CompletionRequest{SystemPrompt: "sys", UserPrompt: "user"})

	assert.Equal(t, nil, err)
	assert.Equal(t, `{"topic_title":"t"}`, resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, float64(2000), got["max_tokens"])
}

func TestCompleteClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}, nil)

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "x"})

	var pe *pipeline.ProviderError
	assert.Equal(t, true, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":3,"total_tokens":3}}`)
	}, nil)

	vec, err := c.Embed(context.Background(), "hello")

	assert.Equal(t, nil, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbedUsesCache(t *testing.T) {
	var calls int32
	cache := &memoryCache{data: map[string][]float32{}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,0]}],"model":"m","usage":{"total_tokens":1}}`)
	}, cache)

	first, err := c.Embed(context.Background(), "same text")
	assert.Equal(t, nil, err)
	second, err := c.Embed(context.Background(), "same text")
	assert.Equal(t, nil, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, cache.sets)
}

func TestEmbedEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"object":"list","data":[],"model":"m","usage":{"total_tokens":0}}`)
	}, nil)

	_, err := c.Embed(context.Background(), "x")
	assert.NotEqual(t, nil, err)
}
