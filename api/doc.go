// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 AgentBridge HTTP API 的线上数据结构。
//
// # API Overview
//
// AgentBridge 在 HTTP 与 WebSocket 上暴露协调代理：
//   - POST /api/llm/message：把信封路由到目标实例频道或协调频道
//   - GET  /ws/llm/{name}：实例的实时投递通道
//   - POST /api/system/llm/heartbeat/{name}：刷新在线记录
//   - GET  /api/system/status：已知实例在线状态与后端服务状态
//   - /api/paper-trail/* 与 /api/ideas/*：轨迹与想法提交
//
// 代理不做认证，部署时应放在可信网络或网关之后。
//
// # Base URL
//
//	http://localhost:8000
//
// handlers 包与 client 包共享这里的请求与响应类型。
package api
