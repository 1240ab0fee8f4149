// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Command llm-coordinator 在 agent 所在主机上运行一个实例协调器。

实例名作为第一个参数（如 claude-rpi5），角色由名称推导。协调器通过
HTTP 向代理发送心跳与消息，通过 /ws/llm/{name} 接收任务，收到
SIGINT/SIGTERM 后停止。
*/
package main
