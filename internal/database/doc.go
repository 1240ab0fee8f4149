// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，供轨迹归档使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Close() 与带重试的事务执行。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。

# 主要能力

  - 多驱动：Dialector 按名称选择 postgres、mysql 或 sqlite（纯 Go 实现）。
  - 健康检查：后台定时 PingContext 探活，Close 后退出。
  - 事务重试：WithTransactionRetry 对死锁、序列化失败、连接中断等
    错误做指数退避重试。
*/
package database
