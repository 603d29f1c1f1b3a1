// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 提供生成调用的成本核算与 OpenTelemetry 指标。

# 核心类型

  - CostCalculator：按层级计价，成本 = 输入 token × 输入单价 + 输出 token × 输出单价。
  - CostLedger：进程内按层级累计调用次数、token 与成本，读取返回快照。
  - Metrics：基于 OpenTelemetry Meter/Tracer 记录每次尝试、降级、token 与成本。
*/
package observability
