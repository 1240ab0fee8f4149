// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Command agentbridge 运行协调代理。

serve 按配置选择 Redis 或进程内后端，挂载协调 API、websocket
实时通道、轨迹与创意接口，并在独立端口暴露 /metrics。
broker.embedded_instances 中列出的实例在代理进程内以
LocalTransport 运行协调器。health 子命令探测 /health，version 打印
构建信息。
*/
package main
