package api

import (
	"time"

	"github.com/BaSui01/agentbridge/types"
)

// =============================================================================
// ✉️ 实例间消息
// =============================================================================

// MessageRequest POST /api/llm/message 请求体
// @Description 实例间消息
type MessageRequest struct {
	// 发送方实例名，例如 claude-rpi5
	FromLLM string `json:"from_llm" example:"claude-rpi5"`
	// 目标实例名，"*" 表示广播
	ToLLM string `json:"to_llm" example:"codex-rpi5"`
	// 任务名
	Task string `json:"task" example:"generate_code_structure"`
	// 不透明的任务上下文
	Context map[string]any `json:"context"`
	// 会话 ID，回复原样返回
	SessionID string `json:"session_id" example:"idea-1712345678"`
	// 建议优先级，代理不据此排序
	Priority int `json:"priority,omitempty" example:"1"`
}

// Envelope 转换为信封
func (r *MessageRequest) Envelope() *types.Envelope {
	return &types.Envelope{
		From:      r.FromLLM,
		To:        r.ToLLM,
		Task:      r.Task,
		Context:   r.Context,
		SessionID: r.SessionID,
		Priority:  r.Priority,
	}
}

// NewMessageRequest 从信封构造请求体
func NewMessageRequest(env *types.Envelope) *MessageRequest {
	return &MessageRequest{
		FromLLM:   env.From,
		ToLLM:     env.To,
		Task:      env.Task,
		Context:   env.Context,
		SessionID: env.SessionID,
		Priority:  env.Priority,
	}
}

// HeartbeatResponse 心跳回执
type HeartbeatResponse struct {
	Status string `json:"status" example:"acknowledged"`
	LLM    string `json:"llm" example:"claude-rpi5"`
}

// HeartbeatAcknowledged 心跳回执状态
const HeartbeatAcknowledged = "acknowledged"

// =============================================================================
// 📊 系统状态
// =============================================================================

// StatusResponse GET /api/system/status 响应
type StatusResponse struct {
	Timestamp    time.Time               `json:"timestamp"`
	LLMInstances map[string]types.Status `json:"llm_instances"`
	// Connections 每个已知实例当前的实时连接数
	Connections map[string]int          `json:"connections"`
	Services    map[string]types.Status `json:"services"`
}

// 状态中的服务名
const (
	ServicePresence = "presence"
	ServiceBus      = "bus"
	ServiceTrail    = "trail"
)

// =============================================================================
// 📜 轨迹
// =============================================================================

// TrailUpdateRequest POST /api/paper-trail/update 请求体
type TrailUpdateRequest struct {
	EntityType string         `json:"entity_type" example:"idea"`
	EntityID   string         `json:"entity_id" example:"idea-1712345678"`
	Action     string         `json:"action" example:"created"`
	Data       map[string]any `json:"data"`
}

// TrailUpdateResponse 轨迹写入回执
type TrailUpdateResponse struct {
	Status string `json:"status" example:"updated"`
	Key    string `json:"key" example:"trail:idea:idea-1712345678"`
}

// TrailEntry 轨迹中的一条记录
type TrailEntry struct {
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// TrailResponse 实体的轨迹，最新在前
type TrailResponse struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Trail      []TrailEntry `json:"trail"`
}

// =============================================================================
// 💡 想法
// =============================================================================

// IdeaSubmission POST /api/ideas/submit 请求体
type IdeaSubmission struct {
	Title       string `json:"title" example:"Solar kettle"`
	Description string `json:"description" example:"A kettle that boils water with sunlight"`
	Category    string `json:"category,omitempty" example:"hardware"`
}

// IdeaSubmitResponse 想法提交回执
type IdeaSubmitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status" example:"processing"`
	Message   string `json:"message"`
}

// IdeaResponse GET /api/ideas/{id} 响应
type IdeaResponse struct {
	IdeaID string       `json:"idea_id"`
	Status string       `json:"status" example:"processing"`
	Trail  []TrailEntry `json:"trail"`
}

// ServiceBanner GET / 响应
type ServiceBanner struct {
	Status    string    `json:"status" example:"online"`
	Service   string    `json:"service" example:"agentbridge"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// 🏥 健康与版本
// =============================================================================

// 就绪检查结论
const (
	ReadyOK       = "ready"
	ReadyDegraded = "not_ready"
	CheckPass     = "pass"
	CheckFail     = "fail"
)

// LivenessResponse GET /health 与 /healthz 响应，进程存活即返回
type LivenessResponse struct {
	Status    string    `json:"status" example:"alive"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse GET /ready 响应，按依赖逐项给出结果
type ReadinessResponse struct {
	Status    string                 `json:"status" example:"ready"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult 单个依赖的检查结果
type CheckResult struct {
	Status  string `json:"status" example:"pass"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// VersionInfo GET /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
