package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/answer"
	"github.com/BaSui01/answerflow/internal/tlsutil"
	"github.com/BaSui01/answerflow/llm/observability"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

type fakeService struct {
	resp    *answer.Response
	err     error
	lastReq *answer.Request
	stats   answer.Stats
}

func (f *fakeService) AnswerQuestion(ctx context.Context, req *answer.Request) (*answer.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.RequestID, _ = types.RequestID(ctx)
	return &resp, nil
}

func (f *fakeService) Stats(context.Context) answer.Stats { return f.stats }

func newTestHandler(svc answerService) http.Handler {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return Chain(newHTTPHandler(svc, metricsHandler, nil), RequestID())
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, routeAnswer, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnswer_OK(t *testing.T) {
	svc := &fakeService{resp: &answer.Response{
		AnswerText:  "Brandon commissions UK drama.",
		Sources:     []rag.SourceReference{{DocumentID: "d1", Title: "Brandon", Score: 0.9}},
		CacheStatus: answer.CacheStatus{Kind: rag.CacheMiss},
		Tier:        "balanced",
		TopK:        6,
	}}
	rec := post(t, newTestHandler(svc), `{"question":"Who buys UK drama?","intent":"routing","filters":{"region":"uk"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body answer.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Brandon commissions UK drama.", body.AnswerText)
	assert.Equal(t, rag.CacheMiss, body.CacheStatus.Kind)
	assert.Equal(t, "req-1", body.RequestID)
	require.Len(t, body.Sources, 1)

	require.NotNil(t, svc.lastReq)
	assert.Equal(t, types.IntentRouting, svc.lastReq.Intent)
	assert.Equal(t, rag.Filters{"region": "uk"}, svc.lastReq.Filters)
}

func TestHandleAnswer_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		status     int
		code       types.ErrorCode
		retryAfter bool
	}{
		{name: "malformed json", body: `{"question":`, status: http.StatusBadRequest, code: types.ErrInvalidQuestion},
		{name: "unknown field", body: `{"question":"q","intent":"factual","colour":"red"}`, status: http.StatusBadRequest, code: types.ErrInvalidQuestion},
		{name: "too large", body: `{"question":"` + strings.Repeat("a", maxRequestBytes) + `"}`, status: http.StatusRequestEntityTooLarge, code: types.ErrInvalidQuestion},
		{name: "validation", body: `{"question":"q","intent":"smalltalk"}`, err: types.NewValidationError(types.ErrUnknownIntent, "unknown intent"), status: http.StatusBadRequest, code: types.ErrUnknownIntent},
		{name: "rate limited", body: `{"question":"q","intent":"factual"}`, err: types.NewRateLimitedError(), status: http.StatusTooManyRequests, code: types.ErrRateLimited, retryAfter: true},
		{name: "retrieval", body: `{"question":"q","intent":"factual"}`, err: types.NewRetrievalUnavailableError(errors.New("down")), status: http.StatusServiceUnavailable, code: types.ErrRetrievalUnavailable},
		{name: "plain error hides details", body: `{"question":"q","intent":"factual"}`, err: errors.New("secret dsn"), status: http.StatusInternalServerError, code: types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newTestHandler(&fakeService{err: tt.err}), tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body struct {
				Error     types.Error `json:"error"`
				RequestID string      `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, "req-1", body.RequestID)
			assert.NotContains(t, rec.Body.String(), "secret dsn")
			if tt.retryAfter {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestHTTPHandler_Routes(t *testing.T) {
	svc := &fakeService{stats: answer.Stats{
		Cache:  rag.CacheStats{Size: 3, ExactHits: 2},
		Totals: observability.TierSummary{RequestCount: 5},
	}}
	h := newTestHandler(svc)

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, routeHealth, http.StatusOK, `"status":"ok"`},
		{http.MethodGet, routeStats, http.StatusOK, `"size":3`},
		{http.MethodGet, routeMetrics, http.StatusOK, "# metrics"},
		{http.MethodGet, routeVersion, http.StatusOK, `"version":"dev"`},
		{http.MethodGet, routeAnswer, http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Contains(t, rec.Body.String(), tt.body)
			}
		})
	}
}

func TestCheckHealth(t *testing.T) {
	healthy := httptest.NewServer(newTestHandler(&fakeService{}))
	defer healthy.Close()
	client := tlsutil.SecureHTTPClient(healthTimeout)

	assert.NoError(t, checkHealth(context.Background(), client, healthy.URL+"/"))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	err := checkHealth(context.Background(), client, broken.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
