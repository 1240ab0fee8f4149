// Package registry binds live instance connections to their bus subscriptions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/broker/bus"
	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/types"
)

// DefaultWriteTimeout 单次连接写入的超时
const DefaultWriteTimeout = 5 * time.Second

// ErrClosed 注册表已关闭
var ErrClosed = errors.New("registry is closed")

// Conn 实时连接。Write 必须可以在任意 goroutine 中调用。
type Conn interface {
	Write(ctx context.Context, payload []byte) error
}

// =============================================================================
// 🔌 连接句柄
// =============================================================================

// Handle 一个已注册的连接
type Handle struct {
	ID   uint64
	Name string

	conn Conn
	sub  bus.Subscription

	mu     sync.Mutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

// Done 连接被注销后关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// write 已注销的句柄不再写入
func (h *Handle) write(ctx context.Context, payload []byte) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, nil
	}
	return true, h.conn.Write(ctx, payload)
}

// =============================================================================
// 📒 注册表
// =============================================================================

// Registry 连接注册表。同一实例名可以有多个连接，每个连接独立订阅。
type Registry struct {
	bus          bus.Bus
	writeTimeout time.Duration

	mu      sync.RWMutex
	conns   map[string]map[uint64]*Handle
	nextID  uint64
	closed  bool
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option 注册表选项
type Option func(*Registry)

// WithWriteTimeout 设置写入超时
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = c
	}
}

// New 创建注册表
func New(b bus.Bus, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		bus:          b,
		writeTimeout: DefaultWriteTimeout,
		conns:        make(map[string]map[uint64]*Handle),
		logger:       logger.With(zap.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 订阅 llm:{name} 与 llm:coordination，并启动转发协程
func (r *Registry) Register(ctx context.Context, name string, conn Conn) (*Handle, error) {
	if !types.ValidInstanceName(name) {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid instance name %q", name))
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	sub, err := r.bus.Subscribe(ctx, types.ChannelFor(name), types.CoordinationChannel)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	r.nextID++
	h := &Handle{
		ID:   r.nextID,
		Name: name,
		conn: conn,
		sub:  sub,
		done: make(chan struct{}),
	}
	set, ok := r.conns[name]
	if !ok {
		set = make(map[uint64]*Handle)
		r.conns[name] = set
	}
	set[h.ID] = h
	r.mu.Unlock()

	r.metrics.RecordConnectionOpened()
	r.logger.Info("connection registered", zap.String("llm", name), zap.Uint64("conn_id", h.ID))

	go r.forward(h)
	return h, nil
}

// Deregister 幂等。返回后不会再向该连接写入任何消息。
func (r *Registry) Deregister(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		if err := h.sub.Close(); err != nil {
			r.logger.Debug("subscription close failed", zap.String("llm", h.Name), zap.Error(err))
		}

		r.mu.Lock()
		if set, ok := r.conns[h.Name]; ok {
			delete(set, h.ID)
			if len(set) == 0 {
				delete(r.conns, h.Name)
			}
		}
		r.mu.Unlock()

		close(h.done)
		r.metrics.RecordConnectionClosed()
		r.logger.Info("connection deregistered", zap.String("llm", h.Name), zap.Uint64("conn_id", h.ID))
	})
}

// forward 把订阅到的消息写入连接，写入失败即注销
func (r *Registry) forward(h *Handle) {
	for msg := range h.sub.Messages() {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		written, err := h.write(ctx, msg.Payload)
		cancel()
		if !written {
			return
		}
		r.metrics.RecordForward(err)
		if err != nil {
			r.logger.Warn("connection write failed, deregistering",
				zap.String("llm", h.Name),
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
			r.Deregister(h)
			return
		}
	}
	// 订阅被总线侧关闭
	r.Deregister(h)
}

// Connections 返回实例当前的连接数
func (r *Registry) Connections(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[name])
}

// Count 返回所有实例的连接总数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.conns {
		total += len(set)
	}
	return total
}

// Close 注销所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	var handles []*Handle
	for _, set := range r.conns {
		for _, h := range set {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Deregister(h)
	}
	return nil
}
