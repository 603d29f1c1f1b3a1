package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/config"
)

const defaultServiceName = "answerflow"

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider。
// 遥测关闭时两者均为 nil，Shutdown 为空操作。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 初始化 OTel SDK。cfg.Telemetry.Enabled 为 false 时返回 noop Providers，
// 不连接任何外部服务，全局 provider 保持 noop。
func Init(cfg *config.Config, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	tcfg := cfg.Telemetry
	if !tcfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tcfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tcfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRate(tcfg.SampleRate)))),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", tcfg.OTLPEndpoint),
		zap.String("service_name", serviceName(tcfg)),
		zap.Float64("sample_rate", clampRate(tcfg.SampleRate)),
	)

	return &Providers{tp: tp, mp: mp}, nil
}

func serviceName(cfg config.TelemetryConfig) string {
	if cfg.ServiceName == "" {
		return defaultServiceName
	}
	return cfg.ServiceName
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName(cfg.Telemetry)),
		semconv.ServiceVersionKey.String(buildVersion()),
	}
	return resource.New(ctx, resource.WithAttributes(append(attrs, ServiceAttributes(cfg)...)...))
}

// ServiceAttributes 描述本实例缓存与分层路由配置的资源属性，
// 用于在后端按配置区分实例
func ServiceAttributes(cfg *config.Config) []attribute.KeyValue {
	tiers := make([]string, 0, len(cfg.Router.Tiers))
	models := make([]string, 0, len(cfg.Router.Tiers))
	for _, t := range cfg.Router.Tiers {
		tiers = append(tiers, t.Name)
		models = append(models, t.Model)
	}

	attrs := []attribute.KeyValue{
		attribute.Int("answerflow.cache.max_size", cfg.Cache.MaxSize),
		attribute.Float64("answerflow.cache.similarity_threshold", cfg.Cache.SimilarityThreshold),
		attribute.String("answerflow.cache.ttl", cfg.Cache.TTL.String()),
		attribute.Bool("answerflow.cache.mirror", cfg.Cache.MirrorEnabled),
		attribute.StringSlice("answerflow.router.tiers", tiers),
		attribute.StringSlice("answerflow.router.models", models),
		attribute.String("answerflow.retrieval.vector_store", cfg.Retrieval.VectorStore),
		attribute.String("answerflow.retrieval.graph_store", cfg.Retrieval.GraphStore),
	}
	if cfg.Rerank.Enabled {
		attrs = append(attrs, attribute.String("answerflow.rerank.provider", cfg.Rerank.Provider))
	}
	return attrs
}

// Tracer 返回全局 TracerProvider 上的命名 Tracer
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown 刷新未发送的 span 与指标并关闭导出器；nil 与 noop 均安全
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func clampRate(r float64) float64 {
	switch {
	case r <= 0:
		return 0
	case r >= 1:
		return 1
	default:
		return r
	}
}

// buildVersion 读取模块版本，不可用时返回 "dev"
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
