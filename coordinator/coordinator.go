package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentbridge/broker/dispatcher"
	"github.com/BaSui01/agentbridge/config"
	"github.com/BaSui01/agentbridge/internal/telemetry"
	"github.com/BaSui01/agentbridge/types"
)

// Transport 协调器到代理的传输层
type Transport interface {
	// Heartbeat 刷新在线记录
	Heartbeat(ctx context.Context, name string) error
	// Send 发送一个信封
	Send(ctx context.Context, env *types.Envelope) (*types.Ack, error)
	// Listen 打开实时通道，连接断开或 ctx 结束时返回的通道被关闭
	Listen(ctx context.Context, name string) (<-chan *types.Envelope, error)
}

// Config 协调器配置
type Config struct {
	Name               string
	HeartbeatInterval  time.Duration
	RetryDelay         time.Duration
	MaxConcurrentTasks int
}

// DefaultConfig 返回默认配置
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		HeartbeatInterval:  30 * time.Second,
		RetryDelay:         5 * time.Second,
		MaxConcurrentTasks: 4,
	}
}

// FromConfig 由配置文件的 coordinator 段构造配置，零值由 New 补默认
func FromConfig(name string, cfg config.CoordinatorConfig) Config {
	return Config{
		Name:               name,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		RetryDelay:         cfg.RetryDelay,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
	}
}

// =============================================================================
// 🛰️ 协调器
// =============================================================================

// Coordinator 实例侧协调器
type Coordinator struct {
	cfg        Config
	transport  Transport
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger

	heartbeats metric.Int64Counter
	tasks      metric.Int64Counter
}

// Option 协调器选项
type Option func(*options)

type options struct {
	variants      []dispatcher.Variant
	dispatcherOpt []dispatcher.Option
}

// WithVariant 替换按角色选择的默认变体
func WithVariant(v dispatcher.Variant) Option {
	return func(o *options) {
		o.variants = append(o.variants, v)
	}
}

// WithDispatcherOptions 透传给分发器
func WithDispatcherOptions(opts ...dispatcher.Option) Option {
	return func(o *options) {
		o.dispatcherOpt = append(o.dispatcherOpt, opts...)
	}
}

// New 创建协调器。未指定变体时按实例名推导角色。
func New(cfg Config, transport Transport, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if !types.ValidInstanceName(cfg.Name) {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid instance name %q", cfg.Name))
	}
	def := DefaultConfig(cfg.Name)
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger = logger.With(zap.String("component", "coordinator"), zap.String("llm", cfg.Name))
	c := &Coordinator{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
	}
	c.dispatcher = dispatcher.New(cfg.Name, transportSender{transport}, logger, o.dispatcherOpt...)

	variants := o.variants
	if len(variants) == 0 {
		if v := VariantFor(types.RoleOf(cfg.Name)); v != nil {
			variants = append(variants, v)
		} else {
			logger.Warn("no variant for role, every task completes as a no-op")
		}
	}
	for _, v := range variants {
		c.dispatcher.Use(v)
	}

	meter := telemetry.Meter("coordinator")
	var err error
	if c.heartbeats, err = meter.Int64Counter("agentbridge.coordinator.heartbeats",
		metric.WithDescription("Heartbeats sent by the coordinator")); err != nil {
		return nil, fmt.Errorf("create heartbeat counter: %w", err)
	}
	if c.tasks, err = meter.Int64Counter("agentbridge.coordinator.tasks",
		metric.WithDescription("Envelopes processed by the coordinator")); err != nil {
		return nil, fmt.Errorf("create task counter: %w", err)
	}

	return c, nil
}

// Name 实例名
func (c *Coordinator) Name() string {
	return c.cfg.Name
}

// Dispatcher 返回分发器，可继续注册处理函数
func (c *Coordinator) Dispatcher() *dispatcher.Dispatcher {
	return c.dispatcher
}

// Run 并发运行心跳循环与监听循环，直到 ctx 结束
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting",
		zap.Duration("heartbeat_interval", c.cfg.HeartbeatInterval),
		zap.Int("max_concurrent_tasks", c.cfg.MaxConcurrentTasks),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		c.listenLoop(gctx)
		return nil
	})
	err := g.Wait()

	c.logger.Info("coordinator stopped")
	return err
}

// heartbeatLoop 立即发送一次心跳，成功后按间隔、失败后按重试间隔继续
func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := c.cfg.HeartbeatInterval
		err := c.transport.Heartbeat(ctx, c.cfg.Name)
		c.heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("heartbeat failed", zap.Error(err), zap.Duration("retry_in", c.cfg.RetryDelay))
			next = c.cfg.RetryDelay
		}
		timer.Reset(next)
	}
}

// listenLoop 打开实时通道并处理信封，断开后按重试间隔重连
func (c *Coordinator) listenLoop(ctx context.Context) {
	tasks, tctx := errgroup.WithContext(ctx)
	tasks.SetLimit(c.cfg.MaxConcurrentTasks)
	defer func() { _ = tasks.Wait() }()

	for {
		inbound, err := c.transport.Listen(ctx, c.cfg.Name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("listen failed", zap.Error(err), zap.Duration("retry_in", c.cfg.RetryDelay))
		} else {
			c.logger.Info("listening for tasks")
			for env := range inbound {
				// 回复只唤醒等待者，不占任务槽，否则槽满时 Request 永远等不到结果
				if env.IsResult() {
					c.process(tctx, env)
					continue
				}
				tasks.Go(func() error {
					c.process(tctx, env)
					return nil
				})
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("connection closed, reconnecting", zap.Duration("retry_in", c.cfg.RetryDelay))
		}

		if !sleep(ctx, c.cfg.RetryDelay) {
			return
		}
	}
}

func (c *Coordinator) process(ctx context.Context, env *types.Envelope) {
	c.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("task", env.Task)))
	if err := c.dispatcher.Process(ctx, env); err != nil {
		c.logger.Warn("task processing failed",
			zap.String("task", env.Task),
			zap.String("session_id", env.SessionID),
			zap.Error(err),
		)
	}
}

// Delegate 把任务发给另一个实例，返回新的会话 ID
func (c *Coordinator) Delegate(ctx context.Context, to, task string, taskCtx map[string]any) (string, error) {
	env := &types.Envelope{
		From:      c.cfg.Name,
		To:        to,
		Task:      task,
		Context:   taskCtx,
		SessionID: uuid.NewString(),
		Priority:  1,
	}
	if _, err := c.transport.Send(ctx, env); err != nil {
		return "", err
	}
	c.logger.Info("task delegated", zap.String("to", to), zap.String("task", task), zap.String("session_id", env.SessionID))
	return env.SessionID, nil
}

// Request 发送任务并等待对应的 task_result
func (c *Coordinator) Request(ctx context.Context, to, task string, taskCtx map[string]any, timeout time.Duration) (*types.Envelope, error) {
	sessionID := uuid.NewString()
	pending := c.dispatcher.Pending()
	pending.Expect(sessionID)

	env := &types.Envelope{
		From:      c.cfg.Name,
		To:        to,
		Task:      task,
		Context:   taskCtx,
		SessionID: sessionID,
		Priority:  1,
	}
	if _, err := c.transport.Send(ctx, env); err != nil {
		pending.Cancel(sessionID)
		return nil, err
	}
	return pending.Await(ctx, sessionID, timeout)
}

// transportSender 把 Transport.Send 适配为 dispatcher.Sender
type transportSender struct {
	t Transport
}

func (s transportSender) Route(ctx context.Context, env *types.Envelope) (*types.Ack, error) {
	return s.t.Send(ctx, env)
}

// sleep 等待 d，ctx 结束时返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
