// Package dispatcher maps inbound envelope tasks to role-specific handlers
// and builds the task_result reply for each.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/internal/ctxkeys"
	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/types"
)

// Sender 发送信封，router.Router 与 client.Client 都满足该接口
type Sender interface {
	Route(ctx context.Context, env *types.Envelope) (*types.Ack, error)
}

// HandlerFunc 任务处理函数，返回值作为回复的 context
type HandlerFunc func(ctx context.Context, task *Task) (map[string]any, error)

// Variant 角色变体，启动时向分发器注册自己的处理函数
type Variant interface {
	Role() types.Role
	Register(d *Dispatcher)
}

// State 单个信封的处理状态
type State string

const (
	StateReceived   State = "received"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateDelegated  State = "delegated"
	StateFailed     State = "failed"
)

// 回复 context 中的保留字段
const (
	ResultStatus            = "status"
	ResultTask              = "task"
	ResultError             = "error"
	ResultDelegatedSessions = "delegated_sessions"
)

// =============================================================================
// 📦 任务
// =============================================================================

// Task 正在处理的一个信封
type Task struct {
	Envelope *types.Envelope
	Self     string

	sender Sender

	mu        sync.Mutex
	state     State
	delegated []string
}

// Name 任务名
func (t *Task) Name() string {
	return t.Envelope.Task
}

// Context 信封携带的不透明 context
func (t *Task) Context() map[string]any {
	return t.Envelope.Context
}

// State 当前状态
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Delegate 以新的会话 ID 把子任务发给另一个实例，返回该会话 ID
func (t *Task) Delegate(ctx context.Context, to, task string, taskCtx map[string]any) (string, error) {
	sessionID := uuid.NewString()
	env := &types.Envelope{
		From:      t.Self,
		To:        to,
		Task:      task,
		Context:   taskCtx,
		SessionID: sessionID,
		Priority:  t.Envelope.Priority,
		Timestamp: time.Now().UTC(),
	}
	if _, err := t.sender.Route(ctx, env); err != nil {
		return "", fmt.Errorf("delegate %s to %s: %w", task, to, err)
	}

	t.mu.Lock()
	t.state = StateDelegated
	t.delegated = append(t.delegated, sessionID)
	t.mu.Unlock()
	return sessionID, nil
}

// Delegated 返回已委派的会话 ID
func (t *Task) Delegated() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.delegated...)
}

// =============================================================================
// 🚦 分发器
// =============================================================================

// Dispatcher 任务分发器。task_result 永远不会被回复。
type Dispatcher struct {
	self     string
	role     types.Role
	sender   Sender
	pending  *Pending
	handlers map[string]HandlerFunc

	mu      sync.RWMutex
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.metrics = c
	}
}

// WithPending 共享结果关联器
func WithPending(p *Pending) Option {
	return func(d *Dispatcher) {
		d.pending = p
	}
}

// New 创建分发器，self 为本实例名
func New(self string, sender Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		self:     self,
		role:     types.RoleOf(self),
		sender:   sender,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With(zap.String("component", "dispatcher"), zap.String("llm", self)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pending == nil {
		d.pending = NewPending()
	}
	return d
}

// Self 本实例名
func (d *Dispatcher) Self() string {
	return d.self
}

// Pending 结果关联器
func (d *Dispatcher) Pending() *Pending {
	return d.pending
}

// Handle 注册任务处理函数，重复注册覆盖之前的
func (d *Dispatcher) Handle(task string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[task] = h
}

// Use 注册一个角色变体
func (d *Dispatcher) Use(v Variant) {
	v.Register(d)
	d.logger.Info("variant registered", zap.String("role", string(v.Role())))
}

// Tasks 返回已注册的任务名
func (d *Dispatcher) Tasks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}

// Dispatch 处理一个信封并返回回复。没有回复时返回 nil。
func (d *Dispatcher) Dispatch(ctx context.Context, env *types.Envelope) (*types.Envelope, error) {
	if env == nil {
		return nil, types.NewError(types.ErrInvalidEnvelope, "envelope is nil")
	}
	ctx = ctxkeys.WithSessionID(ctxkeys.WithInstance(ctx, d.self), env.SessionID)

	// 结果是终态，交给关联器而不是再次回复
	if env.IsResult() {
		resolved := d.pending.Resolve(env)
		d.logger.Debug("task result received",
			zap.String("from", env.From),
			zap.String("session_id", env.SessionID),
			zap.Bool("awaited", resolved),
		)
		return nil, nil
	}

	// 自己发出的广播会回到自己的协调频道
	if env.IsBroadcast() && env.From == d.self {
		return nil, nil
	}

	start := time.Now()
	task := &Task{Envelope: env, Self: d.self, sender: d.sender, state: StateReceived}

	d.mu.RLock()
	handler, ok := d.handlers[env.Task]
	d.mu.RUnlock()

	var result map[string]any
	if !ok {
		task.setState(StateCompleted)
		result = map[string]any{ResultStatus: string(StateCompleted), ResultTask: env.Task}
		d.logger.Debug("no handler for task", zap.String("task", env.Task))
	} else {
		task.setState(StateProcessing)
		result = d.run(ctx, handler, task)
	}

	d.metrics.RecordDispatch(string(d.role), string(task.State()), time.Since(start))
	d.logger.Info("task dispatched",
		zap.String("task", env.Task),
		zap.String("from", env.From),
		zap.String("session_id", env.SessionID),
		zap.String("state", string(task.State())),
	)

	if !types.ValidInstanceName(env.From) {
		d.logger.Warn("sender is not addressable, reply dropped", zap.String("from", env.From))
		return nil, nil
	}
	return env.Reply(d.self, result), nil
}

// run 执行处理函数，panic 与错误都转化为 failed 结果
func (d *Dispatcher) run(ctx context.Context, handler HandlerFunc, task *Task) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			task.setState(StateFailed)
			d.logger.Error("task handler panic", zap.String("task", task.Name()), zap.Any("panic", r))
			result = failed(task.Name(), fmt.Errorf("handler panic: %v", r))
		}
	}()

	out, err := handler(ctx, task)
	if err != nil {
		task.setState(StateFailed)
		d.logger.Warn("task handler failed", zap.String("task", task.Name()), zap.Error(err))
		return failed(task.Name(), err)
	}

	if out == nil {
		out = make(map[string]any)
	}
	if delegated := task.Delegated(); len(delegated) > 0 {
		out[ResultStatus] = string(StateDelegated)
		out[ResultDelegatedSessions] = delegated
		return out
	}
	task.setState(StateCompleted)
	if _, ok := out[ResultStatus]; !ok {
		out[ResultStatus] = string(StateCompleted)
	}
	if _, ok := out[ResultTask]; !ok {
		out[ResultTask] = task.Name()
	}
	return out
}

// Process 分发并发送回复
func (d *Dispatcher) Process(ctx context.Context, env *types.Envelope) error {
	reply, err := d.Dispatch(ctx, env)
	if err != nil || reply == nil {
		return err
	}
	if _, err := d.sender.Route(ctx, reply); err != nil {
		return fmt.Errorf("send reply for %s: %w", env.SessionID, err)
	}
	return nil
}

func failed(task string, err error) map[string]any {
	return map[string]any{
		ResultStatus: string(StateFailed),
		ResultTask:   task,
		ResultError:  err.Error(),
	}
}
