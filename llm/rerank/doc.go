// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 rerank 提供交叉编码器重排序接入层，对 (问题, 文档) 对打分。

# 核心接口

  - Scorer：检索编排依赖的最小能力，返回与输入下标对齐的相关性分数。
  - Provider：完整重排接口，包含 Rerank、Name 与 MaxDocuments。
  - RerankRequest / RerankResponse：标准化的请求与响应模型。

# 主要能力

  - Cohere 适配：CohereProvider 接入 Cohere Rerank v2 API（/v2/rerank）。
  - Jina 适配：JinaProvider 接入 Jina AI Reranker API（/v1/rerank）。
  - 下标还原：ScoresByIndex 将按相关性排序的结果还原为输入顺序，
    数量不符或下标重复视为失败。
  - 熔断：通过 Config.Breaker 挂接 llm/circuitbreaker。
*/
package rerank
