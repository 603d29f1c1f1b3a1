// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，供用量账本使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 以及事务执行。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。

# 驱动

Dialector 按 config.DatabaseConfig.Driver 选择 postgres、mysql 或
sqlite（纯 Go 实现，无需 cgo）。WithTransactionRetry 对死锁、序列化
失败与 sqlite 锁冲突做指数退避重试。
*/
package database
