package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMilvus 记录请求的 Milvus REST 服务
type fakeMilvus struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	has      bool
	search   string
}

func newFakeMilvus(t *testing.T, has bool, searchResp string) (*fakeMilvus, *httptest.Server) {
	t.Helper()
	f := &fakeMilvus{requests: map[string][]map[string]any{}, has: has, search: searchResp}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.requests[r.URL.Path] = append(f.requests[r.URL.Path], body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/vectordb/collections/has":
			if f.has {
				_, _ = w.Write([]byte(`{"code":0,"data":{"has":true}}`))
			} else {
				_, _ = w.Write([]byte(`{"code":0,"data":{"has":false}}`))
			}
		case "/v2/vectordb/entities/search":
			_, _ = w.Write([]byte(f.search))
		case "/v2/vectordb/collections/get_stats":
			_, _ = w.Write([]byte(`{"code":0,"data":{"rowCount":42}}`))
		default:
			_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMilvus) calls(path string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func TestMilvusStore_UpsertCreatesCollectionOnce(t *testing.T) {
	f, srv := newFakeMilvus(t, false, `{"code":0,"data":[]}`)
	s := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "docs", AutoCreateCollection: true, BatchSize: 2}, zap.NewNop())
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Title: "A", Content: "alpha", Embedding: []float64{1, 0, 0}, Metadata: map[string]any{"region": "uk"}},
		{ID: "b", Content: "beta", Embedding: []float64{0, 1, 0}},
		{ID: "c", Content: "gamma", Embedding: []float64{0, 0, 1}},
	}
	require.NoError(t, s.Upsert(ctx, docs))
	require.NoError(t, s.Upsert(ctx, docs[:1]))

	assert.Len(t, f.calls("/v2/vectordb/collections/has"), 1)
	create := f.calls("/v2/vectordb/collections/create")
	require.Len(t, create, 1)
	assert.Equal(t, "docs", create[0]["collectionName"])
	assert.Len(t, f.calls("/v2/vectordb/collections/load"), 1)

	upserts := f.calls("/v2/vectordb/entities/upsert")
	require.Len(t, upserts, 3)
	first := upserts[0]["data"].([]any)
	require.Len(t, first, 2)
	row := first[0].(map[string]any)
	assert.Equal(t, "a", row["doc_id"])
	assert.Equal(t, milvusPointID("a"), row["id"])
	assert.Equal(t, "A", row["title"])
}

func TestMilvusStore_UpsertValidation(t *testing.T) {
	s := NewMilvusStore(MilvusConfig{BaseURL: "http://127.0.0.1:0", Collection: "docs"}, nil)
	ctx := context.Background()

	assert.Error(t, s.Upsert(ctx, []Document{{ID: "", Embedding: []float64{1}}}))
	assert.Error(t, s.Upsert(ctx, []Document{{ID: "a"}}))
	assert.Error(t, s.Upsert(ctx, []Document{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{1}},
	}))
	assert.NoError(t, s.Upsert(ctx, nil))

	noCollection := NewMilvusStore(MilvusConfig{}, nil)
	assert.Error(t, noCollection.Upsert(ctx, []Document{{ID: "a", Embedding: []float64{1}}}))
	_, err := noCollection.Search(ctx, []float64{1}, 3, nil)
	assert.Error(t, err)
}

func TestMilvusStore_SearchWithFilters(t *testing.T) {
	resp := `{"code":0,"data":[
		{"id":"p2","distance":0.71,"doc_id":"b","title":"B","content":"beta","metadata":{"region":"uk"}},
		{"id":"p1","distance":0.93,"doc_id":"a","content":"alpha","metadata":{"region":"uk"}}
	]}`
	f, srv := newFakeMilvus(t, true, resp)
	s := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "docs"}, nil)

	hits, err := s.Search(context.Background(), []float64{1, 0}, 5, Filters{"region": "uk", "role": "buyer"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Document.ID)
	assert.Equal(t, 0.93, hits[0].Score)
	assert.Equal(t, "B", hits[1].Document.Title)
	assert.Equal(t, "uk", hits[1].Document.Metadata["region"])

	req := f.calls("/v2/vectordb/entities/search")[0]
	assert.Equal(t, float64(5), req["limit"])
	assert.Equal(t,
		`(metadata["region"] == "uk" or json_contains(metadata["region"], "uk")) and (metadata["role"] == "buyer" or json_contains(metadata["role"], "buyer"))`,
		req["filter"])
}

func TestMilvusStore_SearchEdgeCases(t *testing.T) {
	_, srv := newFakeMilvus(t, true, `{"code":1100,"message":"collection not loaded"}`)
	s := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "docs"}, nil)

	hits, err := s.Search(context.Background(), []float64{1}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Search(context.Background(), nil, 3, nil)
	assert.Error(t, err)

	_, err = s.Search(context.Background(), []float64{1}, 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not loaded")
}

func TestMilvusStore_DeleteCountClear(t *testing.T) {
	f, srv := newFakeMilvus(t, true, `{"code":0,"data":[]}`)
	s := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "docs", AutoCreateCollection: true}, nil)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, []string{"a", " "}))
	del := f.calls("/v2/vectordb/entities/delete")
	require.Len(t, del, 1)
	assert.Equal(t, `id in ["`+milvusPointID("a")+`"]`, del[0]["filter"])

	require.NoError(t, s.Delete(ctx, nil))
	assert.Len(t, f.calls("/v2/vectordb/entities/delete"), 1)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	require.NoError(t, s.Upsert(ctx, []Document{{ID: "a", Embedding: []float64{1}}}))
	require.NoError(t, s.ClearAll(ctx))
	require.NoError(t, s.Upsert(ctx, []Document{{ID: "a", Embedding: []float64{1}}}))
	assert.Len(t, f.calls("/v2/vectordb/collections/has"), 2)
	assert.Len(t, f.calls("/v2/vectordb/collections/drop"), 1)
}

func TestMilvusStore_DistanceToScore(t *testing.T) {
	tests := []struct {
		metric MilvusMetricType
		in     float64
		want   float64
	}{
		{MilvusMetricCosine, 0.8, 0.8},
		{MilvusMetricIP, 0.5, 0.5},
		{MilvusMetricL2, 1, 0.5},
	}
	for _, tt := range tests {
		s := NewMilvusStore(MilvusConfig{MetricType: tt.metric}, nil)
		assert.InDelta(t, tt.want, s.distanceToScore(tt.in), 1e-9, string(tt.metric))
	}
}

func TestMilvusStore_Defaults(t *testing.T) {
	s := NewMilvusStore(MilvusConfig{Collection: "docs"}, nil)
	assert.Equal(t, "http://localhost:19530", s.baseURL)
	assert.Equal(t, "default", s.cfg.Database)
	assert.Equal(t, MilvusIndexHNSW, s.cfg.IndexType)
	assert.Equal(t, map[string]any{"ef": 64}, s.cfg.SearchParams)
	assert.Equal(t, milvusPointID("x"), milvusPointID("x"))
	assert.NotEqual(t, milvusPointID("x"), milvusPointID("y"))
}

func TestMilvusFilterExpr(t *testing.T) {
	assert.Empty(t, MilvusFilterExpr(nil))
	assert.Equal(t,
		`(metadata["name"] == "O\"Brien" or json_contains(metadata["name"], "O\"Brien"))`,
		MilvusFilterExpr(Filters{"name": `O"Brien`}))
}
