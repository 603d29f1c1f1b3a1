// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供问答管线使用的生成能力抽象与 HTTP 接入层。

# 核心接口

  - [Provider]：生成能力，Completion / Name
  - [HTTPClient]：外部 HTTP 能力的公共调用层（JSON 编解码、错误映射、熔断），
    被生成、向量化与重排客户端复用

# 实现

  - [OpenAIProvider]：OpenAI 兼容的 /v1/chat/completions 客户端，
    上游缺失用量时使用 tokenizer 包本地估算

# 子包

  - router：按意图分层选择模型，同层重试一次后逐级降级
  - observability：按层级累计 token 与成本
  - embedding / rerank：向量化与相关性打分能力
  - retry / circuitbreaker / batch / tokenizer：韧性与批处理基础设施
*/
package llm
