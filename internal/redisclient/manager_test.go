package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 10 * time.Millisecond

	manager, err := NewManager(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = 0

	_, err := NewManager(context.Background(), config, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_Close(t *testing.T) {
	_, manager := setupTestRedis(t)

	// 让健康检查至少跑一轮
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.Error(t, manager.Ping(context.Background()))
}

func TestManager_ClientSharesConnection(t *testing.T) {
	mr, manager := setupTestRedis(t)

	require.NoError(t, manager.Client().Set(context.Background(), "presence:claude-rpi5", "1", 0).Err())
	assert.True(t, mr.Exists("presence:claude-rpi5"))
}
