// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 AgentBridge HTTP API 的请求处理器实现。

# 概述

handlers 包把协调代理的路由、连接注册表、在线状态与轨迹暴露为
HTTP 与 WebSocket 端点。所有 Handler 遵循标准 net/http 接口，
路径参数通过 Go 1.22 ServeMux 模式的 PathValue 读取。

# 核心类型

  - BrokerHandler：消息投递、实时通道、心跳与系统状态
  - TrailHandler：轨迹写入与查询
  - IdeaHandler：想法提交广播与查询
  - HealthHandler：存活（/health, /healthz）、就绪（/ready 并发探测依赖）、版本与服务横幅
  - StatusRecorder：记录状态码的 ResponseWriter 包装，保留 Hijack
  - Response：统一错误响应结构（success + error + timestamp）
  - PingCheck：以 Ping 函数实现的可插拔健康检查

# 响应约定

协调端点直接返回业务对象（例如 {status, channel, receivers}），
错误统一经 WriteRequestError 输出 Response，types.Error 的错误码映射为
HTTP 状态码：INVALID_ENVELOPE/INVALID_REQUEST 为 400，
SERVICE_UNAVAILABLE 为 503，其余为 5xx。
*/
package handlers
