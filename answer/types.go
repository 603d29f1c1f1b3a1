package answer

import (
	"context"
	"time"

	"github.com/BaSui01/answerflow/llm/observability"
	"github.com/BaSui01/answerflow/llm/router"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

// Request 问答请求；Intent 与 Filters 由上游分类器给出
type Request struct {
	Question string       `json:"question" validate:"question"`
	Intent   types.Intent `json:"intent" validate:"intent"`
	Filters  rag.Filters  `json:"filters,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// CacheStatus 缓存命中状态；Similarity 只在 SEMANTIC 时有意义
type CacheStatus struct {
	Kind       rag.CacheStatus `json:"kind"`
	Similarity float64         `json:"similarity,omitempty"`
}

// Response 问答响应
type Response struct {
	AnswerText  string                `json:"answer_text"`
	Sources     []rag.SourceReference `json:"sources"`
	CacheStatus CacheStatus           `json:"cache_status"`
	Tier        string                `json:"tier,omitempty"`
	TopK        int                   `json:"top_k,omitempty"`
	Degraded    []string              `json:"degraded,omitempty"`
	RequestID   string                `json:"request_id"`
}

// Stats 只读统计：缓存计数与按层级累计的 token / 成本
type Stats struct {
	Cache  rag.CacheStats              `json:"cache"`
	Tiers  []observability.TierSummary `json:"tiers"`
	Totals observability.TierSummary   `json:"totals"`
	Mirror *rag.MirrorStats            `json:"mirror,omitempty"`
}

// Config 问答服务配置
type Config struct {
	// MaxContextDocs 送入生成提示的最大文档数
	MaxContextDocs int `json:"max_context_docs"`
	// MaxQuestionLength 问题最大字符数（去首尾空白后按 rune 计）
	MaxQuestionLength int `json:"max_question_length"`
	// Intents 意图词表（封闭集合）
	Intents []types.Intent `json:"intents"`
}

// DefaultConfig 返回默认问答配置
func DefaultConfig() Config {
	return Config{
		MaxContextDocs:    8,
		MaxQuestionLength: 2000,
		Intents:           types.DefaultIntents(),
	}
}

// AnswerCache 答案缓存能力（rag.SemanticCache）
type AnswerCache interface {
	Lookup(ctx context.Context, question string) (rag.LookupResult, error)
	Store(ctx context.Context, question string, vec []float64, answer *rag.Answer) error
	Stats() rag.CacheStats
}

// FlightCache 支持在途未命中合并的答案缓存（rag.SemanticCache）
type FlightCache interface {
	AnswerCache
	LookupShared(ctx context.Context, question, scope string) (rag.LookupResult, error)
	Complete(f *rag.Flight, answer *rag.Answer, err error)
}

// Retriever 检索能力（rag.Orchestrator）
type Retriever interface {
	Retrieve(ctx context.Context, req rag.RetrievalRequest) (*rag.RetrievalResult, error)
}

// Generator 生成能力（router.TieredRouter）
type Generator interface {
	SelectTier(intent types.Intent) string
	Generate(ctx context.Context, req router.GenerateRequest) (*router.Generation, error)
}

// CostReporter 层级成本汇总（observability.CostLedger）
type CostReporter interface {
	Summary() []observability.TierSummary
	Totals() observability.TierSummary
}

// CacheObserver 接收缓存查询结果（例如 Prometheus 采集器）
type CacheObserver interface {
	RecordCacheLookup(res rag.LookupResult)
	SyncCacheStats(stats rag.CacheStats)
}

// AnswerRecorder 接收每次问答的结果
type AnswerRecorder interface {
	RecordAnswer(intent types.Intent, cacheStatus rag.CacheStatus, outcome string, duration time.Duration)
}

// MirrorReporter 缓存镜像统计（rag.RedisCacheMirror）
type MirrorReporter interface {
	Stats(ctx context.Context) (*rag.MirrorStats, error)
}

// Deps 问答服务依赖；Cache、Costs、CacheObserver、Mirror 可为空
type Deps struct {
	Cache         AnswerCache
	Retriever     Retriever
	Generator     Generator
	Costs         CostReporter
	CacheObserver CacheObserver
	Mirror        MirrorReporter
}
