// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为协调代理和实例协调器提供 TracerProvider 与 MeterProvider。
// 禁用时保持全局 noop 实现，不连接任何外部服务。
package telemetry
