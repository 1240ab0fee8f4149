// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 client 是协调代理 HTTP API 的客户端，实现 coordinator.Transport。

# 概述

  - Heartbeat：POST /api/system/llm/heartbeat/{name}
  - Send：POST /api/llm/message，经 gobreaker 熔断器发送，
    连续失败后快速失败并返回可重试的 SERVICE_UNAVAILABLE
  - Listen：GET /ws/llm/{name} 的 WebSocket 实时通道
  - Status：GET /api/system/status

代理返回的统一错误响应被还原为 *types.Error，保留错误码与可重试标记。
*/
package client
