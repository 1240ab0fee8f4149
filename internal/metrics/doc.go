// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的协调代理指标采集能力，覆盖
HTTP、通道总线、连接、路由、在线状态、任务分发与轨迹七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。nil Collector 的记录
方法均为空操作，业务组件可以不注入指标。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 总线指标：发布次数（是否有接收者）与缓冲区满导致的丢弃次数。
  - 连接指标：活跃连接 Gauge、注册/注销事件、转发成功与失败。
  - 分发指标：按角色与结果状态统计任务数与处理耗时。
*/
package metrics
