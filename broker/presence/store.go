// Package presence tracks which agent instances are currently alive.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/types"
)

// DefaultTTL 在线记录的存活时间
const DefaultTTL = 60 * time.Second

// KeyPrefix 在线记录的 Redis key 前缀
const KeyPrefix = "presence:"

// ErrClosed 存储已关闭
var ErrClosed = errors.New("presence store is closed")

// Store 在线状态存储
type Store interface {
	// Heartbeat 刷新实例的在线记录，重复调用只覆盖 TTL
	Heartbeat(ctx context.Context, name string) error
	// IsOnline 记录存在且未过期时返回 true
	IsOnline(ctx context.Context, name string) (bool, error)
	// Ping 检查后端存储
	Ping(ctx context.Context) error
}

// Key 返回实例的在线记录 key
func Key(name string) string {
	return KeyPrefix + name
}

// =============================================================================
// 🔴 Redis 实现
// =============================================================================

// RedisStore 基于 Redis TTL 的在线状态存储。过期由 Redis 被动完成。
type RedisStore struct {
	client  redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRedisStore 创建 Redis 在线状态存储
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client:  client,
		ttl:     ttl,
		metrics: collector,
		logger:  logger.With(zap.String("component", "presence")),
	}
}

// Heartbeat 写入 presence:{name} = "1"，过期时间为 ttl
func (s *RedisStore) Heartbeat(ctx context.Context, name string) error {
	err := s.client.Set(ctx, Key(name), "1", s.ttl).Err()
	s.metrics.RecordHeartbeat(err)
	if err != nil {
		s.logger.Warn("heartbeat write failed", zap.String("llm", name), zap.Error(err))
		return fmt.Errorf("presence heartbeat %s: %w", name, err)
	}
	s.logger.Debug("heartbeat", zap.String("llm", name))
	return nil
}

// IsOnline 检查在线记录是否存在
func (s *RedisStore) IsOnline(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, Key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup %s: %w", name, err)
	}
	return n > 0, nil
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemoryStore 进程内在线状态存储，过期按时间戳比较判断
type MemoryStore struct {
	mu       sync.RWMutex
	deadline map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
	closed   bool
}

// MemoryOption 内存存储选项
type MemoryOption func(*MemoryStore)

// WithClock 注入时钟，测试使用
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore 创建内存在线状态存储
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		deadline: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heartbeat 刷新过期时间
func (s *MemoryStore) Heartbeat(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.deadline[name] = s.now().Add(s.ttl)
	return nil
}

// IsOnline 过期时间晚于当前时间即在线
func (s *MemoryStore) IsOnline(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	deadline, ok := s.deadline[name]
	return ok && s.now().Before(deadline), nil
}

// Ping 存储关闭后返回 ErrClosed
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.deadline = make(map[string]time.Time)
	return nil
}

// =============================================================================
// 📋 状态汇总
// =============================================================================

// ListStatus 并发查询每个实例的在线状态。单个查询出错只影响该实例，记为 offline。
func ListStatus(ctx context.Context, store Store, names []string) map[string]types.Status {
	statuses := make([]types.Status, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, name := range names {
		g.Go(func() error {
			online, err := store.IsOnline(gctx, name)
			if err != nil || !online {
				statuses[i] = types.StatusOffline
				return nil
			}
			statuses[i] = types.StatusOnline
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.Status, len(names))
	for i, name := range names {
		out[name] = statuses[i]
	}
	return out
}
