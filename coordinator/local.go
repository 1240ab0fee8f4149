package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/broker/presence"
	"github.com/BaSui01/agentbridge/broker/registry"
	"github.com/BaSui01/agentbridge/broker/router"
	"github.com/BaSui01/agentbridge/types"
)

// =============================================================================
// 🔗 进程内传输
// =============================================================================

// LocalTransport 不经过 HTTP，直接连接同进程内的在线状态、路由与注册表
type LocalTransport struct {
	presence presence.Store
	router   *router.Router
	registry *registry.Registry
	buffer   int
	logger   *zap.Logger
}

// NewLocalTransport 创建进程内传输
func NewLocalTransport(p presence.Store, r *router.Router, reg *registry.Registry, logger *zap.Logger) *LocalTransport {
	return &LocalTransport{
		presence: p,
		router:   r,
		registry: reg,
		buffer:   64,
		logger:   logger.With(zap.String("component", "local_transport")),
	}
}

// Heartbeat 直接写在线记录
func (t *LocalTransport) Heartbeat(ctx context.Context, name string) error {
	return t.presence.Heartbeat(ctx, name)
}

// Send 直接路由
func (t *LocalTransport) Send(ctx context.Context, env *types.Envelope) (*types.Ack, error) {
	return t.router.Route(ctx, env)
}

// Listen 在注册表中登记一个通道连接
func (t *LocalTransport) Listen(ctx context.Context, name string) (<-chan *types.Envelope, error) {
	out := make(chan *types.Envelope, t.buffer)
	conn := &chanConn{out: out, logger: t.logger}

	h, err := t.registry.Register(ctx, name, conn)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			t.registry.Deregister(h)
		case <-h.Done():
		}
		// 注销返回后注册表不会再调用 Write
		close(out)
	}()
	return out, nil
}

// chanConn 把注册表的写入转成信封通道
type chanConn struct {
	out    chan<- *types.Envelope
	logger *zap.Logger
}

func (c *chanConn) Write(ctx context.Context, payload []byte) error {
	env, err := types.UnmarshalEnvelope(payload)
	if err != nil {
		// 丢弃无法解析的载荷，连接保持
		c.logger.Warn("dropping undecodable payload", zap.Error(err))
		return nil
	}
	select {
	case c.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
