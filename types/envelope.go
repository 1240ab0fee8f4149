package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ✉️ 消息信封
// =============================================================================

const (
	// BroadcastAddress 广播哨兵地址，投递到共享协调频道
	BroadcastAddress = "*"

	// TaskResult 回复信封使用的保留任务名
	TaskResult = "task_result"

	// ChannelPrefix 频道名前缀
	ChannelPrefix = "llm:"

	// CoordinationChannel 共享协调频道
	CoordinationChannel = ChannelPrefix + "coordination"
)

// Envelope 实例之间交换的寻址消息单元
type Envelope struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Task      string         `json:"task"`
	Context   map[string]any `json:"context"`
	SessionID string         `json:"session_id"`
	Priority  int            `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsResult 是否为任务结果回复
func (e *Envelope) IsResult() bool {
	return e.Task == TaskResult
}

// IsBroadcast 是否为广播信封
func (e *Envelope) IsBroadcast() bool {
	return e.To == BroadcastAddress
}

// Reply 基于请求构造结果回复，session_id 保持不变
func (e *Envelope) Reply(from string, result map[string]any) *Envelope {
	return &Envelope{
		From:      from,
		To:        e.From,
		Task:      TaskResult,
		Context:   result,
		SessionID: e.SessionID,
		Priority:  e.Priority,
		Timestamp: time.Now().UTC(),
	}
}

// Validate 校验信封的寻址字段。context 不参与校验。
func (e *Envelope) Validate() error {
	var missing []string
	if e.To == "" {
		missing = append(missing, "to")
	}
	if e.Task == "" {
		missing = append(missing, "task")
	}
	if e.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if len(missing) > 0 {
		return NewError(ErrInvalidEnvelope, "missing required fields: "+strings.Join(missing, ", "))
	}
	if e.To != BroadcastAddress && !ValidInstanceName(e.To) {
		return NewError(ErrInvalidEnvelope, fmt.Sprintf("invalid destination %q", e.To))
	}
	return nil
}

// Destination 返回信封应投递到的频道
func (e *Envelope) Destination() string {
	if e.IsBroadcast() {
		return CoordinationChannel
	}
	return ChannelFor(e.To)
}

// Marshal 序列化信封
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope 从总线载荷解析信封
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// ChannelFor 返回实例专属频道名
func ChannelFor(instance string) string {
	return ChannelPrefix + instance
}

// =============================================================================
// 📬 投递回执
// =============================================================================

// Ack 路由回执。不代表目标在线。
type Ack struct {
	Status  string `json:"status"`
	Channel string `json:"channel"`
	// Receivers 发布时总线报告的订阅者数量，仅供参考
	Receivers int64 `json:"receivers"`
}

// AckSent 回执状态
const AckSent = "sent"
