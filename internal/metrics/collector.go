// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 router.Observer 与 rag.RetrievalObserver
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 问答指标
	answersTotal   *prometheus.CounterVec
	answerDuration *prometheus.HistogramVec

	// 语义缓存指标
	cacheLookups    *prometheus.CounterVec
	cacheSimilarity prometheus.Histogram
	cacheEvictions  prometheus.Counter
	cacheSize       prometheus.Gauge

	// 检索指标
	topK            *prometheus.HistogramVec
	storeFailures   *prometheus.CounterVec
	rerankOutcomes  *prometheus.CounterVec
	retrievalStages *prometheus.HistogramVec

	// 模型层级指标
	tierAttempts *prometheus.CounterVec
	tierLatency  *prometheus.HistogramVec
	tokensUsed   *prometheus.CounterVec
	tierCost     *prometheus.CounterVec

	mu            sync.Mutex
	lastEvictions int64
	logger        *zap.Logger
}

// NewCollector 在默认 Registerer 上创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 在指定 Registerer 上创建指标收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 问答指标
	c.answersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Total number of answered questions",
		},
		[]string{"intent", "cache_status", "outcome"},
	)

	c.answerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"cache_status"},
	)

	// 语义缓存指标
	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_cache_lookups_total",
			Help:      "Semantic cache lookups by status",
		},
		[]string{"status"},
	)

	c.cacheSimilarity = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "semantic_cache_hit_similarity",
			Help:      "Cosine similarity of semantic cache hits",
			Buckets:   []float64{0.8, 0.85, 0.9, 0.92, 0.94, 0.96, 0.98, 1},
		},
	)

	c.cacheEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_cache_evictions_total",
			Help:      "Entries evicted from the semantic cache",
		},
	)

	c.cacheSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "semantic_cache_entries",
			Help:      "Current number of semantic cache entries",
		},
	)

	// 检索指标
	c.topK = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_top_k",
			Help:      "Selected retrieval breadth per question",
			Buckets:   []float64{3, 5, 8, 10, 12, 15, 20},
		},
		[]string{"intent"},
	)

	c.storeFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_store_failures_total",
			Help:      "Store searches that failed after retry",
		},
		[]string{"store"},
	)

	c.rerankOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_total",
			Help:      "Cross-encoder rerank outcomes",
		},
		[]string{"outcome"},
	)

	c.retrievalStages = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Retrieval stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// 模型层级指标
	c.tierAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tier_attempts_total",
			Help:      "Generation attempts per tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	c.tierLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_tier_duration_seconds",
			Help:      "Generation attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tier"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"tier", "type"}, // type: input, output
	)

	c.tierCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_total",
			Help:      "Total LLM cost in USD",
		},
		[]string{"tier"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 💬 问答与缓存指标
// =============================================================================

// RecordAnswer 记录一次问答；outcome 为 ok 或错误码
func (c *Collector) RecordAnswer(intent types.Intent, cacheStatus rag.CacheStatus, outcome string, duration time.Duration) {
	status := string(cacheStatus)
	if status == "" {
		status = "NONE"
	}
	c.answersTotal.WithLabelValues(string(intent), status, outcome).Inc()
	c.answerDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCacheLookup 记录缓存查询结果
func (c *Collector) RecordCacheLookup(res rag.LookupResult) {
	c.cacheLookups.WithLabelValues(string(res.Status)).Inc()
	if res.Status == rag.CacheHitSemantic {
		c.cacheSimilarity.Observe(res.Similarity)
	}
}

// SyncCacheStats 把缓存统计同步为 Gauge 与淘汰计数
func (c *Collector) SyncCacheStats(stats rag.CacheStats) {
	c.cacheSize.Set(float64(stats.Size))
	c.mu.Lock()
	defer c.mu.Unlock()
	if delta := stats.Evictions - c.lastEvictions; delta > 0 {
		c.cacheEvictions.Add(float64(delta))
		c.lastEvictions = stats.Evictions
	}
}

// =============================================================================
// 🔍 检索指标（rag.RetrievalObserver）
// =============================================================================

// ObserveTopK 记录选定的 top_k
func (c *Collector) ObserveTopK(intent types.Intent, topK int) {
	c.topK.WithLabelValues(string(intent)).Observe(float64(topK))
}

// ObserveStoreFailure 记录存储检索失败
func (c *Collector) ObserveStoreFailure(store string) {
	c.storeFailures.WithLabelValues(store).Inc()
}

// ObserveRerank 记录重排结果
func (c *Collector) ObserveRerank(outcome rag.RerankOutcome) {
	c.rerankOutcomes.WithLabelValues(string(outcome)).Inc()
}

// ObserveStage 记录检索阶段耗时
func (c *Collector) ObserveStage(stage string, elapsed time.Duration) {
	c.retrievalStages.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// =============================================================================
// 🤖 模型层级指标（router.Observer）
// =============================================================================

// ObserveAttempt 记录一次生成尝试
func (c *Collector) ObserveAttempt(tier, outcome string, d time.Duration) {
	c.tierAttempts.WithLabelValues(tier, outcome).Inc()
	c.tierLatency.WithLabelValues(tier).Observe(d.Seconds())
}

// ObserveUsage 记录 token 用量与成本
func (c *Collector) ObserveUsage(tier string, tokensIn, tokensOut int, cost float64) {
	c.tokensUsed.WithLabelValues(tier, "input").Add(float64(tokensIn))
	c.tokensUsed.WithLabelValues(tier, "output").Add(float64(tokensOut))
	c.tierCost.WithLabelValues(tier).Add(cost)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
