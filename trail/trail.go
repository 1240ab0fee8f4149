// Package trail keeps the short-lived "paper trail" of actions taken on an
// entity (a session, an idea), newest first.
package trail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/types"
)

const (
	// DefaultTTL 轨迹列表过期时间
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries 每个实体保留的最大条数
	DefaultMaxEntries = 1000
	// KeyPrefix 轨迹 key 前缀
	KeyPrefix = "trail:"
)

// Entry 一条轨迹
type Entry struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Validate 检查必填字段
func (e *Entry) Validate() error {
	var missing []string
	if e.EntityType == "" {
		missing = append(missing, "entity_type")
	}
	if e.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if e.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrInvalidRequest, "missing "+strings.Join(missing, ", "))
	}
	if strings.Contains(e.EntityType, ":") {
		return types.NewError(types.ErrInvalidRequest, "entity_type must not contain ':'")
	}
	return nil
}

// Key 返回 trail:{entity_type}:{entity_id}
func Key(entityType, entityID string) string {
	return KeyPrefix + entityType + ":" + entityID
}

// Sink 轨迹写入方
type Sink interface {
	Append(ctx context.Context, entry Entry) (string, error)
}

// Archive 可选的持久化归档
type Archive interface {
	Save(ctx context.Context, entry Entry) error
	List(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
}

// =============================================================================
// 📜 Redis 轨迹存储
// =============================================================================

// Store Redis 列表实现，可选镜像到 Archive
type Store struct {
	client     redis.UniversalClient
	ttl        time.Duration
	maxEntries int64
	archive    Archive
	now        func() time.Time

	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option 存储选项
type Option func(*Store)

// WithTTL 设置过期时间
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxEntries 设置保留条数
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = int64(n)
		}
	}
}

// WithArchive 设置持久化归档
func WithArchive(a Archive) Option {
	return func(s *Store) {
		s.archive = a
	}
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) {
		s.metrics = c
	}
}

// NewStore 创建轨迹存储
func NewStore(client redis.UniversalClient, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client:     client,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "trail")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append 头插一条轨迹，截断到上限并刷新过期时间，返回 key
func (s *Store) Append(ctx context.Context, entry Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal trail entry: %w", err)
	}

	key := Key(entry.EntityType, entry.EntityID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.maxEntries-1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	s.metrics.RecordTrailAppend(err)
	if err != nil {
		return "", fmt.Errorf("append trail %s: %w", key, err)
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, entry); err != nil {
			// 归档失败不影响 Redis 中已写入的轨迹
			s.logger.Warn("trail archive failed", zap.String("key", key), zap.Error(err))
		}
	}
	return key, nil
}

// Read 按新到旧返回轨迹。Redis 中已过期时回落到归档。
func (s *Store) Read(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	key := Key(entityType, entityID)
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read trail %s: %w", key, err)
	}

	if len(items) == 0 && s.archive != nil {
		return s.archive.List(ctx, entityType, entityID, int(s.maxEntries))
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("skipping malformed trail entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping 检查 Redis 连接
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
