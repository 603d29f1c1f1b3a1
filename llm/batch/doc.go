// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 提供请求合并能力，将短时间窗口内到达的独立请求
聚合为一次下游调用。

# 概述

向量化等接口天然支持批量输入。逐条调用会产生大量网络往返，
本包的 Processor 在 MaxWaitTime 窗口或 MaxBatchSize 上限内
收集请求，由后台 Worker 统一交给 Handler 处理。

# 核心类型

  - Handler：批量处理回调，返回与请求按下标对应的结果。
  - Processor：泛型批处理器，管理请求队列、Worker 与批次调度。
  - BatchConfig：批大小上限、等待窗口、队列容量、Worker 数量与处理超时。

# 主要能力

  - 自动聚合：按 MaxBatchSize 或 MaxWaitTime 触发批次提交。
  - 取消移除：调用方 ctx 结束后立即返回，组装批次时跳过该请求。
  - 运行统计：Stats 提供提交、批次、完成、失败与丢弃数。

# 使用方式

	bp := batch.NewProcessor(batch.DefaultBatchConfig(),
	    func(ctx context.Context, texts []string) ([][]float64, error) {
	        return embedder.EmbedDocuments(ctx, texts)
	    })
	defer bp.Close()

	vec, err := bp.Submit(ctx, "question text")
*/
package batch
