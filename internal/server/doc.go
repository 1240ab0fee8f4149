// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理代理进程内 HTTP 服务器（API 与 metrics）的生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，Addr 返回实际绑定
地址（支持 ":0"），WaitForSignal 等待 SIGINT/SIGTERM、ctx 结束或
服务异常，Shutdown 在超时内排空请求。websocket 等被劫持的长连接
不受 Shutdown 排空约束，需通过 RegisterOnShutdown 通知。
*/
package server
