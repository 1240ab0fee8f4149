// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 coordinator 是运行在每个 agent 实例旁边的协调器。

# 概述

Coordinator 周期性发送心跳保持在线记录，打开实时通道接收发往本实例
或协调频道的信封，并交给 dispatcher 按任务名处理后回复 task_result。
心跳失败或连接断开时按 RetryDelay 重试，直到 ctx 结束。

# 核心类型

  - Transport：协调器与代理之间的传输抽象。client.Client 经 HTTP 与
    WebSocket 实现它，LocalTransport 直接连接同进程内的代理组件。
  - ClaudeVariant / CodexVariant：按实例角色注册的默认任务处理函数。

# 并发

监听循环用 errgroup 限制同时处理的任务数，达到上限时停止读取实时通道，
背压最终由代理侧的写超时与重连承担。
*/
package coordinator
