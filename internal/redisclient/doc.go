// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 redisclient 管理协调代理共享的 Redis 连接。

在线状态、通道总线与轨迹存储共用同一个 *redis.Client。Manager
在创建时执行一次 Ping，连接不可用时直接返回错误，由 serve 命令
决定退出；运行期间按 HealthCheckInterval 周期探活并记录连接池
状态。Config.TLS 为 true 时使用 tlsutil 的加固 TLS 配置。
*/
package redisclient
