package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/internal/metrics"
)

// =============================================================================
// 🔴 Redis 总线
// =============================================================================

// RedisBus 基于 Redis PUBLISH/SUBSCRIBE 的总线
type RedisBus struct {
	client redis.UniversalClient
	buffer int

	mu     sync.RWMutex
	closed bool

	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRedisBus 创建 Redis 总线
func NewRedisBus(client redis.UniversalClient, buffer int, collector *metrics.Collector, logger *zap.Logger) *RedisBus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &RedisBus{
		client:  client,
		buffer:  buffer,
		metrics: collector,
		logger:  logger.With(zap.String("component", "bus")),
	}
}

// Publish 返回 Redis 报告的接收者数量
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}

	receivers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	b.metrics.RecordPublish(kindOf(channel), receivers)
	return receivers, nil
}

// Subscribe 订阅确认后才返回，之后发布的消息不会丢失
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	ps := b.client.Subscribe(ctx, channels...)
	for range channels {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %v: %w", channels, err)
		}
		if _, ok := msg.(*redis.Subscription); !ok {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %v: unexpected reply %T", channels, msg)
		}
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	go sub.forward(ps.Channel(redis.WithChannelSize(b.buffer)), b)
	return sub, nil
}

// Ping 检查 Redis 连接
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close 标记总线关闭，客户端由调用方关闭
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// redisSub Redis 订阅
type redisSub struct {
	ps     *redis.PubSub
	ch     chan Message
	done   chan struct{}
	once   sync.Once
	closed error
}

func (s *redisSub) forward(in <-chan *redis.Message, b *RedisBus) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-s.done:
				return
			default:
				b.metrics.RecordDrop(kindOf(msg.Channel))
				b.logger.Debug("subscriber buffer full, delivery dropped", zap.String("channel", msg.Channel))
			}
		}
	}
}

func (s *redisSub) Messages() <-chan Message {
	return s.ch
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.closed = s.ps.Close()
	})
	return s.closed
}
