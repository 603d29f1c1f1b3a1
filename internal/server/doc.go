// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理问答 HTTP 服务的生命周期：非阻塞启动、优雅关闭与
异常退出传播。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供
    Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头、关闭超时与
    最大并发连接数；
    ConfigFrom 由 config.ServerConfig 映射。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 连接上限：MaxConnections > 0 时以 netutil.LimitListener 包装监听器。
  - 优雅关闭：Shutdown 在配置的超时内排空请求，可重复调用。
  - 等待退出：Wait 在 ctx 结束（信号）或服务器异常退出后关闭服务。
*/
package server
