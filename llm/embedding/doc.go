// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 embedding 提供统一的文本嵌入（Embedding）接口与实现，
用于将问题与文档转换为向量表示以支持语义缓存与向量检索。

# 核心接口

  - Embedder：语义缓存与检索编排依赖的最小能力（EmbedQuery、EmbedDocuments）。
  - Provider：完整嵌入接口，额外提供 Embed、Name、Dimensions、MaxBatchSize。
  - BaseProvider：公共基类，基于 llm.HTTPClient 封装请求、错误映射、熔断与分批。

# 主要能力

  - OpenAI 兼容：OpenAIProvider 对接 /v1/embeddings，可指向任意兼容服务。
  - 自动分批：EmbedDocuments 按 MaxBatchSize 切分并按 Index 还原顺序。
  - 请求合并：BatchingEmbedder 在 20ms 窗口内合并并发的 EmbedQuery 调用。

# 使用方式

	cfg := embedding.DefaultOpenAIConfig()
	cfg.APIKey = "sk-..."
	provider := embedding.NewOpenAIProvider(cfg)

	batched := embedding.NewBatchingEmbedder(provider, embedding.DefaultBatchingConfig(), logger)
	defer batched.Close()

	vec, err := batched.EmbedQuery(ctx, "who handles factual programming in the UK?")
*/
package embedding
