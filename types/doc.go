// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 AgentBridge 的共享类型定义，不依赖任何内部包。

# 核心类型

  - Envelope：实例间交换的寻址消息，"*" 表示广播到协调频道
  - Ack：发布回执（status、channel、receivers）
  - Role：由实例名推导的角色（claude、codex、unknown）
  - Status：在线状态（online、offline）
  - Error：结构化错误（ErrorCode、HTTP 状态码、Retryable）

# 命名

实例名形如 {role}-{host}，ValidInstanceName 校验可寻址性，RoleOf /
HostOf / PeerOf 按约定推导角色、站点与同站点的对端实例。
*/
package types
