package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/answerflow/llm"

// Metrics 基于 OpenTelemetry 的生成调用指标
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	attemptTotal    metric.Int64Counter
	tokenTotal      metric.Int64Counter
	fallbackTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	costPerRequest  metric.Float64Histogram
}

// NewMetrics 创建指标收集器，使用全局 MeterProvider / TracerProvider
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	if m.attemptTotal, err = m.meter.Int64Counter("llm.attempt.total",
		metric.WithDescription("Generation attempts by tier and outcome"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if m.tokenTotal, err = m.meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.fallbackTotal, err = m.meter.Int64Counter("llm.fallback.total",
		metric.WithDescription("Tier fallbacks triggered"),
		metric.WithUnit("{fallback}")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = m.meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, err
	}
	if m.costPerRequest, err = m.meter.Float64Histogram("llm.cost.per_request",
		metric.WithDescription("Cost per successful generation in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1)); err != nil {
		return nil, err
	}
	return m, nil
}

// AttemptAttrs 单次尝试属性
type AttemptAttrs struct {
	Tier      string
	Model     string
	Attempt   int
	TokensIn  int
	TokensOut int
	Cost      float64
	Duration  time.Duration
	Err       error
}

// StartGeneration 开启一次生成的 span
func (m *Metrics) StartGeneration(ctx context.Context, tier string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "llm.generate", trace.WithAttributes(attribute.String("llm.tier", tier)))
}

// RecordAttempt 记录一次尝试
func (m *Metrics) RecordAttempt(ctx context.Context, a AttemptAttrs) {
	outcome := "success"
	if a.Err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("tier", a.Tier),
		attribute.String("model", a.Model),
		attribute.String("outcome", outcome))

	m.attemptTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, a.Duration.Seconds(), attrs)

	if a.Err != nil {
		trace.SpanFromContext(ctx).AddEvent("attempt_failed", trace.WithAttributes(
			attribute.String("tier", a.Tier),
			attribute.Int("attempt", a.Attempt),
			attribute.String("error", a.Err.Error())))
		return
	}

	m.tokenTotal.Add(ctx, int64(a.TokensIn), metric.WithAttributes(
		attribute.String("tier", a.Tier), attribute.String("type", "prompt")))
	m.tokenTotal.Add(ctx, int64(a.TokensOut), metric.WithAttributes(
		attribute.String("tier", a.Tier), attribute.String("type", "completion")))
	m.costPerRequest.Record(ctx, a.Cost, metric.WithAttributes(attribute.String("tier", a.Tier)))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("llm.served_tier", a.Tier),
		attribute.String("llm.model", a.Model),
		attribute.Int("llm.tokens.prompt", a.TokensIn),
		attribute.Int("llm.tokens.completion", a.TokensOut),
		attribute.Float64("llm.cost", a.Cost))
}

// RecordFallback 记录一次层级降级
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	m.fallbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to)))
}
