// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的问答链路指标采集能力，覆盖
HTTP、问答、语义缓存、检索与模型层级五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册到指定 Registerer（默认为全局 Registerer）。所有指标按 namespace
隔离，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，同时实现 router.Observer 与
    rag.RetrievalObserver，可直接挂到分层路由器与检索编排器上。

# 主要能力

  - HTTP 指标：请求总数与耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 问答指标：按 intent/cache_status/outcome 计数，按缓存状态统计耗时。
  - 缓存指标：查询状态计数、语义命中相似度分布、条目数与淘汰数。
  - 检索指标：top_k 分布、存储失败计数、重排结果、各阶段耗时。
  - 模型层级指标：尝试次数、尝试耗时、输入/输出 Token 与成本。
*/
package metrics
