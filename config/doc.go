// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 AgentBridge 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AGENTBRIDGE_* 环境变量 的顺序合并，
// 覆盖 HTTP 服务、Redis、轨迹归档数据库、协调代理、实例协调器、
// 日志与遥测。
package config
