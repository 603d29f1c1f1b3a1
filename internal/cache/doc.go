// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，作为语义缓存跨实例镜像的存储后端。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete、
    GetJSON/SetJSON、前缀扫描 ScanPrefix 与批量读取 MGet。
  - Config：地址、密码、连接池、默认 TTL 与健康检查间隔。
  - Stats：由 INFO 输出解析得到的命中、内存与连接数。

# 错误语义

ErrCacheMiss 表示键不存在，ErrClosed 表示管理器已关闭。
*/
package cache
