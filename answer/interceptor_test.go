package answer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

func okHandler(tier string) Handler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{AnswerText: "ok", Tier: tier, CacheStatus: CacheStatus{Kind: rag.CacheMiss}, TopK: 5}, nil
	}
}

func errHandler(err error) Handler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return nil, err
	}
}

var validReq = &Request{Question: "Who commissions drama?", Intent: types.IntentFactual}

// =============================================================================
// 🧪 Chain
// =============================================================================

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Interceptor {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name+":before")
				resp, err := next(ctx, req)
				order = append(order, name+":after")
				return resp, err
			}
		}
	}

	h := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		order = append(order, "handler")
		return &Response{}, nil
	}, mark("outer"), nil, mark("inner"))

	_, err := h(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, order)
}

func TestChain_NoInterceptors(t *testing.T) {
	h := Chain(okHandler("fast"))
	resp, err := h(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Tier)
}

// =============================================================================
// 🧪 Recovery
// =============================================================================

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		panic("boom")
	}, Recovery(zap.New(core)))

	resp, err := h(types.WithRequestID(context.Background(), "req-1"), validReq)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
	assert.Equal(t, 500, types.HTTPStatusOf(err))

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "answer handler panicked", entry.Message)
	assert.Equal(t, "req-1", entry.ContextMap()["request_id"])
}

func TestRecovery_PassesThrough(t *testing.T) {
	h := Chain(okHandler("balanced"), Recovery(nil))
	resp, err := h(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, "balanced", resp.Tier)
}

// =============================================================================
// 🧪 Logging
// =============================================================================

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		level   zapcore.Level
		message string
	}{
		{name: "answered", handler: okHandler("fast"), level: zapcore.InfoLevel, message: "question answered"},
		{name: "validation", handler: errHandler(types.NewValidationError(types.ErrInvalidQuestion, "question is empty")), level: zapcore.WarnLevel, message: "question rejected"},
		{name: "rate limited", handler: errHandler(types.NewRateLimitedError()), level: zapcore.WarnLevel, message: "question rejected"},
		{name: "retrieval", handler: errHandler(types.NewRetrievalUnavailableError(errors.New("down"))), level: zapcore.ErrorLevel, message: "question failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := Chain(tt.handler, Logging(zap.New(core)))

			_, _ = h(types.WithRequestID(context.Background(), "req-7"), validReq)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.message, entry.Message)
			fields := entry.ContextMap()
			assert.Equal(t, "answer", fields["component"])
			assert.Equal(t, "req-7", fields["request_id"])
			assert.Equal(t, "factual", fields["intent"])
		})
	}
}

// =============================================================================
// 🧪 Metrics
// =============================================================================

type answerRecord struct {
	intent  types.Intent
	status  rag.CacheStatus
	outcome string
}

type fakeAnswerRecorder struct {
	mu      sync.Mutex
	records []answerRecord
}

func (f *fakeAnswerRecorder) RecordAnswer(intent types.Intent, status rag.CacheStatus, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, answerRecord{intent: intent, status: status, outcome: outcome})
}

func TestMetrics(t *testing.T) {
	rec := &fakeAnswerRecorder{}

	_, _ = Chain(okHandler("fast"), Metrics(rec))(context.Background(), validReq)
	_, _ = Chain(errHandler(types.NewRateLimitedError()), Metrics(rec))(context.Background(), validReq)
	_, _ = Chain(errHandler(errors.New("plain")), Metrics(rec))(context.Background(), nil)

	assert.Equal(t, []answerRecord{
		{intent: types.IntentFactual, status: rag.CacheMiss, outcome: "ok"},
		{intent: types.IntentFactual, status: "", outcome: string(types.ErrRateLimited)},
		{intent: "", status: "", outcome: "error"},
	}, rec.records)
}

func TestMetrics_NilRecorder(t *testing.T) {
	resp, err := Chain(okHandler("fast"), Metrics(nil))(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.AnswerText)
}

// =============================================================================
// 🧪 RateLimit
// =============================================================================

func TestRateLimit(t *testing.T) {
	calls := 0
	h := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return &Response{}, nil
	}, RateLimit(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := h(context.Background(), validReq)
	require.NoError(t, err)

	_, err = h(context.Background(), validReq)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))
	assert.Equal(t, 429, types.HTTPStatusOf(err))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestNewRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 10))
	assert.Nil(t, NewRateLimiter(-1, 10))

	l := NewRateLimiter(5, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, rate.Limit(5), l.Limit())

	// nil 限流器不限流
	h := Chain(okHandler("fast"), RateLimit(NewRateLimiter(0, 0)))
	for i := 0; i < 5; i++ {
		_, err := h(context.Background(), validReq)
		require.NoError(t, err)
	}
}

// =============================================================================
// 🧪 Validation
// =============================================================================

func TestValidationInterceptor(t *testing.T) {
	reached := false
	h := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		reached = true
		return &Response{}, nil
	}, Validation(NewRequestValidator(100, nil)))

	_, err := h(context.Background(), &Request{Question: "Who?", Intent: "unknown"})
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownIntent))
	assert.False(t, reached)

	_, err = h(context.Background(), validReq)
	require.NoError(t, err)
	assert.True(t, reached)
}

// =============================================================================
// 🧪 Tracing
// =============================================================================

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("answer-test")

	ctx := types.WithRequestID(context.Background(), "req-9")
	_, err := Chain(okHandler("premium"), Tracing(tracer))(ctx, validReq)
	require.NoError(t, err)

	_, err = Chain(errHandler(types.NewRetrievalUnavailableError(errors.New("down"))), Tracing(tracer))(ctx, validReq)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "answer.AnswerQuestion", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := map[string]string{}
	for _, kv := range ok.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "factual", attrs["answer.intent"])
	assert.Equal(t, "req-9", attrs["answer.request_id"])
	assert.Equal(t, "premium", attrs["answer.tier"])
	assert.Equal(t, "MISS", attrs["answer.cache_status"])

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, string(types.ErrRetrievalUnavailable), failed.Status().Description)
	assert.NotEmpty(t, failed.Events())
}

// =============================================================================
// 🧪 Service.Use
// =============================================================================

func TestService_UseWrapsCore(t *testing.T) {
	ts := newTestService(t, DefaultConfig())
	rec := &fakeAnswerRecorder{}
	ts.svc.Use(Recovery(nil), Metrics(rec), RateLimit(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := ts.svc.AnswerQuestion(context.Background(), validReq)
	require.NoError(t, err)
	_, err = ts.svc.AnswerQuestion(context.Background(), validReq)
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))

	require.Len(t, rec.records, 2)
	assert.Equal(t, "ok", rec.records[0].outcome)
	assert.Equal(t, string(types.ErrRateLimited), rec.records[1].outcome)
	assert.Equal(t, 1, ts.generator.CallCount())
}
