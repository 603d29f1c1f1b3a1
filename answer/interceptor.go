package answer

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/answerflow/types"
)

// Handler 处理一个问答请求
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Interceptor 包裹处理器并添加横切能力
type Interceptor func(next Handler) Handler

// Chain 用拦截器包裹处理器；第一个拦截器位于最外层
func Chain(h Handler, interceptors ...Interceptor) Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] != nil {
			h = interceptors[i](h)
		}
	}
	return h
}

// PanicError 表示已恢复的 panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// Recovery 把处理器中的 panic 转换为 INTERNAL_ERROR
func Recovery(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					requestID, _ := types.RequestID(ctx)
					logger.Error("answer handler panicked",
						zap.String("request_id", requestID),
						zap.Any("panic", r),
						zap.Stack("stack"))
					resp = nil
					err = types.NewError(types.ErrInternalError, "internal error").
						WithHTTPStatus(500).
						WithCause(&PanicError{Value: r})
				}
			}()
			return next(ctx, req)
		}
	}
}

// Tracing 为每次问答打开一个 span；tracer 为 nil 时使用全局 TracerProvider
func Tracing(tracer trace.Tracer) Interceptor {
	if tracer == nil {
		tracer = otel.Tracer("github.com/BaSui01/answerflow/answer")
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			ctx, span := tracer.Start(ctx, "answer.AnswerQuestion", trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			if req != nil {
				span.SetAttributes(
					attribute.String("answer.intent", string(req.Intent)),
					attribute.Int("answer.question_length", utf8.RuneCountInString(req.Question)),
					attribute.Int("answer.filters", len(req.Filters)),
				)
			}
			if requestID, ok := types.RequestID(ctx); ok {
				span.SetAttributes(attribute.String("answer.request_id", requestID))
			}

			resp, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
				return resp, err
			}
			span.SetAttributes(
				attribute.String("answer.cache_status", string(resp.CacheStatus.Kind)),
				attribute.String("answer.tier", resp.Tier),
				attribute.Int("answer.top_k", resp.TopK),
				attribute.Int("answer.sources", len(resp.Sources)),
			)
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}
	}
}

// Logging 记录每次问答的结果与耗时；校验类错误按 warn 级别记录
func Logging(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "answer"))
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			requestID, _ := types.RequestID(ctx)
			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.Duration("duration", time.Since(start)),
			}
			if req != nil {
				fields = append(fields, zap.String("intent", string(req.Intent)))
			}

			switch {
			case err == nil:
				fields = append(fields,
					zap.String("cache_status", string(resp.CacheStatus.Kind)),
					zap.String("tier", resp.Tier),
					zap.Int("top_k", resp.TopK),
					zap.Strings("degraded", resp.Degraded))
				logger.Info("question answered", fields...)
			case types.IsValidation(err) || types.IsErrorCode(err, types.ErrRateLimited):
				logger.Warn("question rejected", append(fields, zap.Error(err))...)
			default:
				logger.Error("question failed", append(fields, zap.Error(err))...)
			}
			return resp, err
		}
	}
}

// Metrics 按意图、缓存状态与结果记录问答计数和耗时
func Metrics(rec AnswerRecorder) Interceptor {
	return func(next Handler) Handler {
		if rec == nil {
			return next
		}
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			var intent types.Intent
			if req != nil {
				intent = req.Intent
			}
			outcome := "ok"
			if err != nil {
				outcome = string(types.GetErrorCode(err))
				if outcome == "" {
					outcome = "error"
				}
			}
			var status CacheStatus
			if resp != nil {
				status = resp.CacheStatus
			}
			rec.RecordAnswer(intent, status.Kind, outcome, time.Since(start))
			return resp, err
		}
	}
}

// NewRateLimiter 按每秒请求数与突发上限创建令牌桶；rps ≤ 0 返回 nil 表示不限流
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimit 超出速率时直接拒绝并返回 RATE_LIMITED；limiter 为 nil 时不限流
func RateLimit(limiter *rate.Limiter) Interceptor {
	return func(next Handler) Handler {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, req *Request) (*Response, error) {
			if !limiter.Allow() {
				return nil, types.NewRateLimitedError()
			}
			return next(ctx, req)
		}
	}
}

// Validation 在进入后续拦截器前校验请求
func Validation(v *RequestValidator) Interceptor {
	return func(next Handler) Handler {
		if v == nil {
			return next
		}
		return func(ctx context.Context, req *Request) (*Response, error) {
			if err := v.Validate(req); err != nil {
				return nil, err
			}
			return next(ctx, req)
		}
	}
}
