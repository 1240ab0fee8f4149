package coordinator

import (
	"context"

	"github.com/BaSui01/agentbridge/broker/dispatcher"
	"github.com/BaSui01/agentbridge/types"
)

// 变体处理的任务名
const (
	TaskProcessNewIdea        = "process_new_idea"
	TaskGenerateCodeStructure = "generate_code_structure"
)

// VariantFor 按角色返回默认变体，未知角色返回 nil
func VariantFor(role types.Role) dispatcher.Variant {
	switch role {
	case types.RoleClaude:
		return ClaudeVariant{}
	case types.RoleCodex:
		return CodexVariant{}
	default:
		return nil
	}
}

// =============================================================================
// 🧠 Claude：分析与规划
// =============================================================================

// ClaudeVariant 分析新想法，并把代码结构生成委派给同主机的 codex
type ClaudeVariant struct{}

// Role 角色
func (ClaudeVariant) Role() types.Role { return types.RoleClaude }

// Register 注册处理函数
func (v ClaudeVariant) Register(d *dispatcher.Dispatcher) {
	d.Handle(TaskProcessNewIdea, v.processNewIdea)
	d.Handle(TaskGenerateCodeStructure, v.generateCodeStructure)
}

func (ClaudeVariant) processNewIdea(_ context.Context, task *dispatcher.Task) (map[string]any, error) {
	idea, _ := task.Context()["idea"].(map[string]any)
	return map[string]any{
		"idea":             idea,
		"uniqueness_score": 0.75,
		"quality_score":    0.80,
		"analysis":         "This is a novel approach with good potential.",
		"next_steps":       []string{"Generate PRD", "Create initial code structure"},
	}, nil
}

// generateCodeStructure claude 不写代码，转给 codex
func (ClaudeVariant) generateCodeStructure(ctx context.Context, task *dispatcher.Task) (map[string]any, error) {
	peer := types.PeerOf(task.Self, types.RoleCodex)
	if _, err := task.Delegate(ctx, peer, TaskGenerateCodeStructure, task.Context()); err != nil {
		return nil, err
	}
	return map[string]any{"delegated_to": peer}, nil
}

// =============================================================================
// 💻 Codex：代码生成
// =============================================================================

// CodexVariant 生成代码结构
type CodexVariant struct{}

// Role 角色
func (CodexVariant) Role() types.Role { return types.RoleCodex }

// Register 注册处理函数
func (v CodexVariant) Register(d *dispatcher.Dispatcher) {
	d.Handle(TaskGenerateCodeStructure, v.generateCodeStructure)
}

func (CodexVariant) generateCodeStructure(_ context.Context, _ *dispatcher.Task) (map[string]any, error) {
	return map[string]any{
		"files_created": []string{"src/main.py", "src/core/engine.py", "README.md"},
		"git_commit":    "abc123",
	}, nil
}
