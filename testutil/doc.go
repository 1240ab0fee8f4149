// 版权所有 2026 AgentBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 AgentBridge 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 信封断言: AssertEnvelopeEqual（忽略时间戳）/ DecodeEnvelope
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel / RequireReceive
  - 数据工具: MustJSON / AssertJSONEqual

# 子包

  - testutil/fixtures: 默认实例名与 Request / Broadcast / Result 信封构造器
  - testutil/mocks: 记录写入的 Conn（registry.Conn）与记录发送的
    Sender（dispatcher.Sender），均可注入错误
*/
package testutil
