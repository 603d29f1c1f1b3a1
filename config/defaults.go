// =============================================================================
// 📦 AnswerFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Cache:     DefaultCacheConfig(),
		TopK:      DefaultTopKConfig(),
		Intents:   DefaultIntents(),
		Router:    DefaultRouterConfig(),
		Augment:   DefaultAugmentConfig(),
		Rerank:    DefaultRerankConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Embedding: DefaultEmbeddingConfig(),
		LLM:       DefaultLLMConfig(),
		Breaker:   DefaultBreakerConfig(),
		Milvus:    DefaultMilvusConfig(),
		Neo4j:     DefaultNeo4jConfig(),
		Redis:     DefaultRedisConfig(),
		Usage:     DefaultUsageConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:          8080,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		MaxQuestionLength: 2000,
		MaxConnections:    1024,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:          false,
		OTLPEndpoint:     "localhost:4317",
		ServiceName:      "answerflow",
		SampleRate:       0.1,
		MetricsNamespace: "answerflow",
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:             1000,
		SimilarityThreshold: 0.92,
		TTL:                 time.Hour,
		Dimension:           0,
		EmbedTimeout:        2 * time.Second,
		MirrorEnabled:       false,
	}
}

// DefaultCueWords 返回默认复杂度提示词
func DefaultCueWords() []string {
	return []string{
		"and", "or", "but",
		"compare", "compared", "comparing", "comparison",
		"versus", "vs", "between", "across",
		"difference", "differences", "differ",
		"both", "whereas", "while", "contrast",
		"relationship", "multiple", "various", "respectively",
	}
}

// DefaultTopKConfig 返回默认 top_k 配置
func DefaultTopKConfig() TopKConfig {
	return TopKConfig{
		Min:           3,
		Max:           20,
		Base:          0,
		Scale:         1.5,
		CueWeight:     1.5,
		EntityPenalty: 2,
		DatePenalty:   1,
		CueWords:      DefaultCueWords(),
	}
}

func offset(v float64) *float64 { return &v }

// DefaultIntents 返回默认意图词表
func DefaultIntents() []IntentConfig {
	return []IntentConfig{
		{Name: "factual", Tier: "fast", ComplexityOffset: offset(0)},
		{Name: "clarification", Tier: "fast", ComplexityOffset: offset(-2)},
		{Name: "routing", Tier: "balanced", ComplexityOffset: offset(1)},
		{Name: "hybrid", Tier: "balanced", ComplexityOffset: offset(2)},
		{Name: "comparative", Tier: "premium", ComplexityOffset: offset(4)},
		{Name: "strategic", Tier: "premium", ComplexityOffset: offset(4)},
	}
}

// DefaultRouterConfig 返回默认分层路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Tiers: []TierConfig{
			{
				Name:               "fast",
				Model:              "gpt-4o-mini",
				CostPerInputToken:  0.00000015,
				CostPerOutputToken: 0.0000006,
				NominalLatency:     800 * time.Millisecond,
				Temperature:        0.2,
				MaxTokens:          512,
			},
			{
				Name:               "balanced",
				Model:              "gpt-4o",
				CostPerInputToken:  0.0000025,
				CostPerOutputToken: 0.00001,
				NominalLatency:     2 * time.Second,
				Temperature:        0.3,
				MaxTokens:          1024,
			},
			{
				Name:               "premium",
				Model:              "o1",
				CostPerInputToken:  0.000015,
				CostPerOutputToken: 0.00006,
				NominalLatency:     6 * time.Second,
				Temperature:        0.3,
				MaxTokens:          2048,
			},
		},
		Fallback: map[string][]string{
			"premium":  {"balanced", "fast"},
			"balanced": {"fast"},
			"fast":     {"balanced"},
		},
		RetryBackoff: 200 * time.Millisecond,
		CallTimeout:  30 * time.Second,
	}
}

// DefaultAugmentConfig 返回默认查询增强配置（默认关闭）
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		ExpansionEnabled: false,
		Strategy:         "balanced",
		Mode:             "variants",
		MaxVariants:      4,
		Synonyms:         DefaultSynonyms(),
		HyDEEnabled:      false,
		HyDETier:         "fast",
		HyDETimeout:      3 * time.Second,
		HyDEMaxTokens:    256,
		HyDECacheSize:    256,
	}
}

// DefaultSynonyms 返回默认同义词表
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"mandate":   {"remit", "focus", "priorities"},
		"mandates":  {"remits", "focus areas", "priorities"},
		"executive": {"exec", "leader", "decision maker"},
		"head":      {"lead", "chief", "director"},
		"buy":       {"acquire", "commission", "license"},
		"buying":    {"acquiring", "commissioning", "licensing"},
		"pitch":     {"submit", "propose", "present"},
		"content":   {"programming", "titles", "slate"},
		"region":    {"territory", "market", "country"},
		"regions":   {"territories", "markets", "countries"},
		"show":      {"series", "program", "title"},
		"film":      {"movie", "feature", "picture"},
	}
}

// DefaultRerankConfig 返回默认重排配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:   true,
		Provider:  "cohere",
		BaseURL:   "https://api.cohere.ai",
		Model:     "rerank-v3.5",
		BatchSize: 16,
		Timeout:   5 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索编排配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorStore:    "memory",
		GraphStore:     "memory",
		StoreTimeout:   3 * time.Second,
		RetryBackoff:   150 * time.Millisecond,
		GraphLimit:     25,
		MaxContextDocs: 8,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:         "https://api.openai.com",
		Model:           "text-embedding-3-small",
		Dimensions:      1536,
		Timeout:         10 * time.Second,
		BatchingEnabled: false,
		BatchWindow:     20 * time.Millisecond,
		MaxBatchSize:    32,
	}
}

// DefaultLLMConfig 返回默认生成服务配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL: "https://api.openai.com",
		Timeout: 2 * time.Minute,
	}
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

// DefaultMilvusConfig 返回默认 Milvus 配置
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Host:       "localhost",
		Port:       19530,
		Database:   "default",
		Collection: "answerflow_documents",
		MetricType: "COSINE",
		Timeout:    30 * time.Second,
	}
}

// DefaultNeo4jConfig 返回默认 Neo4j 配置
func DefaultNeo4jConfig() Neo4jConfig {
	return Neo4jConfig{
		URI:      "bolt://localhost:7687",
		Username: "neo4j",
		Database: "neo4j",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "answerflow:semcache:",
	}
}

// DefaultUsageConfig 返回默认用量账本配置
func DefaultUsageConfig() UsageConfig {
	return UsageConfig{
		Enabled: false,
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "answerflow_usage.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}
