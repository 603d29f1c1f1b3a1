// Config → RAG 桥接层。
//
// 提供工厂函数，将全局 config.Config 转换为 rag 包的运行时实例，
// 消除 config 包和 rag 包之间的手动配置映射。
package rag

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/config"
	"github.com/BaSui01/answerflow/internal/cache"
	"github.com/BaSui01/answerflow/llm/circuitbreaker"
	"github.com/BaSui01/answerflow/llm/embedding"
	"github.com/BaSui01/answerflow/llm/rerank"
)

// VectorStoreType 标识要创建的向量存储后端。
type VectorStoreType string

const (
	VectorStoreMemory VectorStoreType = "memory"
	VectorStoreMilvus VectorStoreType = "milvus"
)

// GraphStoreType 标识要创建的图存储后端。
type GraphStoreType string

const (
	GraphStoreNone   GraphStoreType = "none"
	GraphStoreMemory GraphStoreType = "memory"
	GraphStoreNeo4j  GraphStoreType = "neo4j"
)

// NewVectorStoreFromConfig 根据 retrieval.vector_store 创建 VectorStore。
// 为空时默认使用 InMemory 后端。
func NewVectorStoreFromConfig(cfg *config.Config, logger *zap.Logger) (VectorStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch VectorStoreType(cfg.Retrieval.VectorStore) {
	case VectorStoreMemory, "":
		return NewInMemoryVectorStore(logger), nil
	case VectorStoreMilvus:
		return NewMilvusStore(mapMilvusConfig(cfg), logger), nil
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Retrieval.VectorStore)
	}
}

// NewGraphStoreFromConfig 根据 retrieval.graph_store 创建 GraphStore；
// "none" 返回 nil，此时检索只使用向量存储。
func NewGraphStoreFromConfig(cfg *config.Config, logger *zap.Logger) (GraphStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch GraphStoreType(cfg.Retrieval.GraphStore) {
	case GraphStoreNone:
		return nil, nil
	case GraphStoreMemory, "":
		return NewKnowledgeGraph(logger), nil
	case GraphStoreNeo4j:
		store, err := NewNeo4jGraphStore(Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
			Timeout:  cfg.Retrieval.StoreTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported graph store type: %s", cfg.Retrieval.GraphStore)
	}
}

// NewBreakerFromConfig 为外部 HTTP 能力创建熔断器；未启用时返回 nil
func NewBreakerFromConfig(cfg *config.Config, name string, logger *zap.Logger) circuitbreaker.CircuitBreaker {
	if cfg == nil || !cfg.Breaker.Enabled {
		return nil
	}
	return circuitbreaker.New(circuitbreaker.Config{
		Name:                name,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
	}, logger)
}

// NewEmbedderFromConfig 创建 OpenAI 兼容嵌入器；启用合并时外层包装 BatchingEmbedder。
// 返回的 closer 释放合并器后台资源，总是非 nil。
func NewEmbedderFromConfig(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ecfg := embedding.DefaultOpenAIConfig()
	ecfg.APIKey = cfg.Embedding.APIKey
	if cfg.Embedding.BaseURL != "" {
		ecfg.BaseURL = cfg.Embedding.BaseURL
	}
	if cfg.Embedding.Model != "" {
		ecfg.Model = cfg.Embedding.Model
	}
	if cfg.Embedding.Dimensions > 0 {
		ecfg.Dimensions = cfg.Embedding.Dimensions
	}
	if cfg.Embedding.Timeout > 0 {
		ecfg.Timeout = cfg.Embedding.Timeout
	}
	ecfg.Breaker = NewBreakerFromConfig(cfg, "embedding", logger)

	provider := embedding.NewOpenAIProvider(ecfg)
	if !cfg.Embedding.BatchingEnabled {
		return provider, func() {}, nil
	}

	batching := embedding.NewBatchingEmbedder(provider, embedding.BatchingConfig{
		Window:       cfg.Embedding.BatchWindow,
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		Timeout:      cfg.Embedding.Timeout,
	}, logger)
	return batching, batching.Close, nil
}

// NewScorerFromConfig 创建交叉编码器打分能力；重排未启用时返回 nil
func NewScorerFromConfig(cfg *config.Config, logger *zap.Logger) (rerank.Scorer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if !cfg.Rerank.Enabled {
		return nil, nil
	}

	var rcfg rerank.Config
	switch cfg.Rerank.Provider {
	case "jina":
		rcfg = rerank.DefaultJinaConfig()
	default:
		rcfg = rerank.DefaultCohereConfig()
	}
	rcfg.APIKey = cfg.Rerank.APIKey
	if cfg.Rerank.BaseURL != "" {
		rcfg.BaseURL = cfg.Rerank.BaseURL
	}
	if cfg.Rerank.Model != "" {
		rcfg.Model = cfg.Rerank.Model
	}
	if cfg.Rerank.Timeout > 0 {
		rcfg.Timeout = cfg.Rerank.Timeout
	}
	rcfg.Breaker = NewBreakerFromConfig(cfg, "rerank", logger)

	return rerank.NewProvider(cfg.Rerank.Provider, rcfg)
}

// NewCacheMirrorFromConfig 在启用镜像时连接 Redis 并创建 RedisCacheMirror；
// 未启用时返回 nil。closer 关闭 Redis 连接，总是非 nil。
func NewCacheMirrorFromConfig(cfg *config.Config, logger *zap.Logger) (*RedisCacheMirror, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("config is nil")
	}
	if !cfg.Cache.MirrorEnabled {
		return nil, noop, nil
	}

	ccfg := cache.DefaultConfig()
	ccfg.Addr = cfg.Redis.Addr
	ccfg.Password = cfg.Redis.Password
	ccfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		ccfg.PoolSize = cfg.Redis.PoolSize
	}
	ccfg.MinIdleConns = cfg.Redis.MinIdleConns
	ccfg.DefaultTTL = cfg.Cache.TTL

	manager, err := cache.NewManager(ccfg, logger)
	if err != nil {
		return nil, noop, fmt.Errorf("create cache mirror: %w", err)
	}
	return NewRedisCacheMirror(manager, cfg.Redis.KeyPrefix, cfg.Cache.TTL, logger), manager.Close, nil
}

// NewTopKSelectorFromConfig 按 top_k 与意图表创建选择器
func NewTopKSelectorFromConfig(cfg *config.Config) (*TopKSelector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	return NewTopKSelector(TopKConfig{
		Min:           cfg.TopK.Min,
		Max:           cfg.TopK.Max,
		Base:          cfg.TopK.Base,
		Scale:         cfg.TopK.Scale,
		CueWeight:     cfg.TopK.CueWeight,
		EntityPenalty: cfg.TopK.EntityPenalty,
		DatePenalty:   cfg.TopK.DatePenalty,
		CueWords:      cfg.TopK.CueWords,
		KnownEntities: cfg.TopK.KnownEntities,
	}, cfg.IntentOffsets())
}

// SemanticCacheConfigFrom 映射语义缓存配置
func SemanticCacheConfigFrom(cfg *config.Config) SemanticCacheConfig {
	return SemanticCacheConfig{
		MaxSize:             cfg.Cache.MaxSize,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 cfg.Cache.TTL,
		Dimension:           cfg.Cache.Dimension,
		EmbedTimeout:        cfg.Cache.EmbedTimeout,
	}
}

// AugmentConfigFrom 映射查询增强配置
func AugmentConfigFrom(cfg *config.Config) AugmentConfig {
	return AugmentConfig{
		ExpansionEnabled: cfg.Augment.ExpansionEnabled,
		Strategy:         ExpansionStrategy(cfg.Augment.Strategy),
		Mode:             ExpansionMode(cfg.Augment.Mode),
		MaxVariants:      cfg.Augment.MaxVariants,
		Synonyms:         cfg.Augment.Synonyms,
		HyDEEnabled:      cfg.Augment.HyDEEnabled,
		HyDETimeout:      cfg.Augment.HyDETimeout,
		HyDEMaxTokens:    cfg.Augment.HyDEMaxTokens,
		HyDECacheSize:    cfg.Augment.HyDECacheSize,
	}
}

// RerankConfigFrom 映射重排配置
func RerankConfigFrom(cfg *config.Config) RerankConfig {
	def := DefaultRerankConfig()
	return RerankConfig{
		Enabled:         cfg.Rerank.Enabled,
		BatchSize:       cfg.Rerank.BatchSize,
		Timeout:         cfg.Rerank.Timeout,
		MaxContentChars: def.MaxContentChars,
	}
}

// RetrievalConfigFrom 映射检索编排配置
func RetrievalConfigFrom(cfg *config.Config) RetrievalConfig {
	return RetrievalConfig{
		StoreTimeout: cfg.Retrieval.StoreTimeout,
		RetryBackoff: cfg.Retrieval.RetryBackoff,
		GraphLimit:   cfg.Retrieval.GraphLimit,
	}
}

func mapMilvusConfig(cfg *config.Config) MilvusConfig {
	c := cfg.Milvus
	return MilvusConfig{
		Host:                 c.Host,
		Port:                 c.Port,
		Token:                c.Token,
		Database:             c.Database,
		Collection:           c.Collection,
		VectorDimension:      cfg.Embedding.Dimensions,
		MetricType:           MilvusMetricType(c.MetricType),
		AutoCreateCollection: true,
		Timeout:              c.Timeout,
	}
}
