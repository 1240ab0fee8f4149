// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package logging 按 config.LogConfig 构建 zap logger，供代理与
// 实例协调器两个入口共用。
package logging
