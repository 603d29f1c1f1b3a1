// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AnswerFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。根包只依赖标准库与 testify，可被任意包的
测试引用而不产生循环依赖。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 向量断言: AssertUnitVector / AssertVectorsClose / AssertSortedDescending
  - 异步断言: AssertEventuallyTrue / WaitFor，超时轮询等待条件满足
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: 向量化（MockEmbedder、BagOfWordsVector）、
    生成（MockProvider）与交叉编码器打分（MockScorer）的 Mock 实现，
    均支持 Builder 模式与错误注入；不依赖 rag 包
  - testutil/fixtures: 预置影视发行语料（Documents / Entities / CorpusJSON）
    以及 OpenAI 兼容接口的响应体，依赖 rag 包

# 使用示例

	ctx := testutil.TestContext(t)
	embedder := mocks.NewMockEmbedder(16)
	vec, err := embedder.EmbedQuery(ctx, "Who buys UK drama?")
	require.NoError(t, err)
	testutil.AssertUnitVector(t, vec, 1e-9)
*/
package testutil
