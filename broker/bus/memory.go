package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/internal/metrics"
)

// =============================================================================
// 🧠 内存总线
// =============================================================================

// MemoryBus 进程内总线。发布持读锁，订阅/退订持写锁。
// 每个订阅者有独立缓冲，缓冲满时丢弃该订阅者的这一条投递，发布方从不阻塞。
type MemoryBus struct {
	mu       sync.RWMutex
	channels map[string]map[*memorySub]struct{}
	buffer   int
	closed   bool

	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewMemoryBus 创建内存总线
func NewMemoryBus(buffer int, collector *metrics.Collector, logger *zap.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &MemoryBus{
		channels: make(map[string]map[*memorySub]struct{}),
		buffer:   buffer,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "bus")),
	}
}

// Publish 投递给通道当前的所有订阅者，返回接收者数量
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}

	subs := b.channels[channel]
	var delivered int64
	for sub := range subs {
		select {
		case sub.ch <- Message{Channel: channel, Payload: payload}:
			delivered++
		default:
			b.metrics.RecordDrop(kindOf(channel))
			b.logger.Debug("subscriber buffer full, delivery dropped", zap.String("channel", channel))
		}
	}
	b.metrics.RecordPublish(kindOf(channel), delivered)
	return delivered, nil
}

// Subscribe 订阅一个或多个通道
func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:      b,
		ch:       make(chan Message, b.buffer),
		channels: channels,
	}
	for _, channel := range channels {
		set, ok := b.channels[channel]
		if !ok {
			set = make(map[*memorySub]struct{})
			b.channels[channel] = set
		}
		set[sub] = struct{}{}
	}
	return sub, nil
}

// Ping 总线关闭后返回 ErrClosed
func (b *MemoryBus) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close 关闭总线及所有订阅
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[*memorySub]struct{})
	for _, set := range b.channels {
		for sub := range set {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			sub.closeLocked()
		}
	}
	b.channels = make(map[string]map[*memorySub]struct{})
	return nil
}

// subscribers 返回通道当前订阅者数量
func (b *MemoryBus) subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// memorySub 内存订阅
type memorySub struct {
	bus      *MemoryBus
	ch       chan Message
	channels []string
	once     sync.Once
}

func (s *memorySub) Messages() <-chan Message {
	return s.ch
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for _, channel := range s.channels {
		if set, ok := s.bus.channels[channel]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.channels, channel)
			}
		}
	}
	s.closeLocked()
	return nil
}

// closeLocked 调用方持有总线写锁
func (s *memorySub) closeLocked() {
	s.once.Do(func() {
		close(s.ch)
	})
}
