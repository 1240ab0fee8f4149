// Package fixtures 提供常用实例名与信封构造器。
package fixtures

import (
	"time"

	"github.com/BaSui01/agentbridge/types"
)

// 部署中的四个默认实例
const (
	ClaudeRPi5 = "claude-rpi5"
	CodexRPi5  = "codex-rpi5"
	ClaudeHPC  = "claude-hpc"
	CodexHPC   = "codex-hpc"
)

// Instances 默认实例列表
func Instances() []string {
	return []string{ClaudeRPi5, CodexRPi5, ClaudeHPC, CodexHPC}
}

// FixedTime 测试使用的固定时间
var FixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Request 构造一条点对点请求
func Request(from, to, task, sessionID string) *types.Envelope {
	return &types.Envelope{
		From:      from,
		To:        to,
		Task:      task,
		Context:   map[string]any{},
		SessionID: sessionID,
		Priority:  1,
		Timestamp: FixedTime,
	}
}

// Broadcast 构造一条发往协调频道的广播
func Broadcast(from, task, sessionID string, ctx map[string]any) *types.Envelope {
	env := Request(from, types.BroadcastAddress, task, sessionID)
	if ctx != nil {
		env.Context = ctx
	}
	return env
}

// Result 构造一条任务结果回复
func Result(req *types.Envelope, from string, result map[string]any) *types.Envelope {
	env := req.Reply(from, result)
	env.Timestamp = FixedTime
	return env
}
