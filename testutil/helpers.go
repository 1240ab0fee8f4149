// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	testutil.AssertEnvelopeEqual(t, expected, actual)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentbridge/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// ✉️ 信封断言
// =============================================================================

// AssertEnvelopeEqual 比较寻址字段与上下文，忽略时间戳
func AssertEnvelopeEqual(t *testing.T, expected, actual *types.Envelope) {
	t.Helper()
	require.NotNil(t, actual, "envelope is nil")
	assert.Equal(t, expected.From, actual.From, "from")
	assert.Equal(t, expected.To, actual.To, "to")
	assert.Equal(t, expected.Task, actual.Task, "task")
	assert.Equal(t, expected.SessionID, actual.SessionID, "session_id")
	assert.Equal(t, expected.Priority, actual.Priority, "priority")
	AssertJSONEqual(t, expected.Context, actual.Context)
}

// AssertJSONEqual 比较两个值序列化后的 JSON
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()
	assert.JSONEq(t, MustJSON(expected), MustJSON(actual))
}

// DecodeEnvelope 解析信封，失败时终止测试
func DecodeEnvelope(t *testing.T, payload []byte) *types.Envelope {
	t.Helper()
	env, err := types.UnmarshalEnvelope(payload)
	require.NoError(t, err)
	return env
}

// =============================================================================
// ⏳ 异步断言
// =============================================================================

// AssertEventuallyTrue 在超时内轮询直到条件成立
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// WaitFor 轮询条件，成立返回 true，超时返回 false
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 在超时内从通道接收一个值
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// RequireReceive 接收一个值，超时或通道关闭时终止测试
func RequireReceive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	v, ok := WaitForChannel(ch, timeout)
	if !ok {
		t.Fatalf("nothing received within %s", timeout)
	}
	return v
}

// =============================================================================
// 🔧 数据工具
// =============================================================================

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

