/*
Package answer 是问答管线的入口层。

Service.AnswerQuestion 先校验请求，再查询语义缓存；未命中时经检索编排器
取得上下文文档，由分层路由器按意图选择模型层级生成答案，最后回填缓存。
相同问题的并发未命中通过 singleflight 合并为一次计算，计算不随单个调用方
取消而中止。

横切能力以 Interceptor 的形式组合：Recovery、Tracing、Logging、Metrics、
RateLimit 与 Validation，按 Use 的参数顺序由外到内包裹核心处理器。
*/
package answer
