package trail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/agentbridge/internal/database"
)

// =============================================================================
// 🗄️ 数据库归档
// =============================================================================

// Record 归档表行
type Record struct {
	ID         uint      `gorm:"primaryKey"`
	EntityType string    `gorm:"size:64;not null;index:idx_trail_entity,priority:1"`
	EntityID   string    `gorm:"size:255;not null;index:idx_trail_entity,priority:2"`
	Action     string    `gorm:"size:128;not null"`
	Data       string    `gorm:"type:text"`
	Timestamp  time.Time `gorm:"not null;index"`
	CreatedAt  time.Time
}

// TableName 表名
func (Record) TableName() string {
	return "trail_entries"
}

// GormArchive 基于 GORM 的归档
type GormArchive struct {
	pool       *database.PoolManager
	maxRetries int
}

// NewGormArchive 创建归档并自动迁移表结构
func NewGormArchive(pool *database.PoolManager) (*GormArchive, error) {
	if err := pool.DB().AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate trail archive: %w", err)
	}
	return &GormArchive{pool: pool, maxRetries: 3}, nil
}

// Save 写入一条归档
func (a *GormArchive) Save(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal trail data: %w", err)
	}
	rec := &Record{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Data:       string(data),
		Timestamp:  entry.Timestamp,
	}
	return a.pool.WithTransactionRetry(ctx, a.maxRetries, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
}

// List 按新到旧返回最多 limit 条
func (a *GormArchive) List(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	var records []Record
	q := a.pool.DB().WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("timestamp DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list trail archive: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		e := Entry{
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Action:     rec.Action,
			Timestamp:  rec.Timestamp,
		}
		if rec.Data != "" {
			if err := json.Unmarshal([]byte(rec.Data), &e.Data); err != nil {
				return nil, fmt.Errorf("decode trail data %d: %w", rec.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
