// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供问答管线的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 rag、llm、answer 等上层
模块提供统一的类型契约。

# 核心类型

  - Intent            — 上游分类器给出的问题意图（封闭词表）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithRequestID / WithTraceID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / IsValidation / HTTPStatusOf
  - 常用错误构造：NewValidationError / NewRetrievalUnavailableError /
    NewGenerationExhaustedError / NewDimensionMismatchError
*/
package types
