package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/types"
)

// --- ChooseModel ---

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", ChooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel("", "", "fallback"))
}

// --- OpenAI Provider ---

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "text-embedding-3-small",
		Timeout: 5 * time.Second,
	})
	return srv, p
}

// vectorHandler 按输入序号返回 [index, len(text)]，并打乱返回顺序
func vectorHandler(calls *atomic.Int32, sizes *[]int, mu *sync.Mutex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req openAIEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if sizes != nil {
			mu.Lock()
			*sizes = append(*sizes, len(req.Input))
			mu.Unlock()
		}
		resp := openAIEmbedResponse{Object: "list", Model: req.Model}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, openAIEmbedData{
				Object:    "embedding",
				Index:     i,
				Embedding: []float64{float64(i), float64(len(req.Input[i]))},
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestOpenAIProviderEmbed(t *testing.T) {
	srv, p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 1536, req.Dimensions)

		resp := openAIEmbedResponse{
			Object: "list",
			Model:  "text-embedding-3-small",
			Data:   []openAIEmbedData{{Object: "embedding", Index: 0, Embedding: []float64{0.1, 0.2, 0.3}}},
		}
		resp.Usage.PromptTokens = 5
		resp.Usage.TotalTokens = 5
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	resp, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"hello world"}})
	require.NoError(t, err)
	assert.Equal(t, "openai-embedding", resp.Provider)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
}

func TestOpenAIProviderEmbedDocumentsKeepsOrder(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	srv := httptest.NewServer(vectorHandler(nil, &sizes, &mu))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, MaxBatch: 2})
	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{0, 1}, vecs[0])
	assert.Equal(t, []float64{1, 2}, vecs[1])
	assert.Equal(t, []float64{0, 3}, vecs[2])
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestOpenAIProviderEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(vectorHandler(nil, nil, nil))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	vec, err := p.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4}, vec)
}

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	assert.Equal(t, "openai-embedding", p.Name())
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, 2048, p.MaxBatchSize())
}

func TestOpenAIProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))
	assert.True(t, types.IsRetryable(err))
}

func TestProviderServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"test"}})
	require.Error(t, err)
}

func TestProviderContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{"test"}})
	assert.ErrorIs(t, err, context.Canceled)
}

// --- BatchingEmbedder ---

func TestBatchingEmbedder_CoalescesConcurrentQueries(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var sizes []int
	srv := httptest.NewServer(vectorHandler(&calls, &sizes, &mu))
	defer srv.Close()

	inner := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	e := NewBatchingEmbedder(inner, BatchingConfig{Window: 100 * time.Millisecond, MaxBatchSize: 8}, nil)
	defer e.Close()

	texts := []string{"a", "bb", "ccc", "dddd"}
	got := make([][]float64, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			vec, err := e.EmbedQuery(context.Background(), text)
			assert.NoError(t, err)
			got[i] = vec
		}(i, text)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i, text := range texts {
		require.Len(t, got[i], 2)
		assert.Equal(t, float64(len(text)), got[i][1])
	}
	assert.Equal(t, int64(4), e.Stats().Completed)
}

func TestBatchingEmbedder_CancelledCallerDoesNotAffectOthers(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	srv := httptest.NewServer(vectorHandler(nil, &sizes, &mu))
	defer srv.Close()

	inner := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	e := NewBatchingEmbedder(inner, BatchingConfig{Window: 150 * time.Millisecond}, nil)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := e.EmbedQuery(ctx, "cancelled")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	vec, err := e.EmbedQuery(context.Background(), "kept")
	require.NoError(t, err)
	assert.Equal(t, float64(4), vec[1])

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, s := range sizes {
		total += s
	}
	assert.Equal(t, 1, total, "cancelled caller never reaches the provider")
}
