package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentbridge/types"
)

// Pending 按 session_id 关联请求与 task_result 回复
type Pending struct {
	mu      sync.Mutex
	waiters map[string]chan *types.Envelope
}

// NewPending 创建关联器
func NewPending() *Pending {
	return &Pending{waiters: make(map[string]chan *types.Envelope)}
}

// Expect 在发送请求之前登记，返回的通道最多收到一个回复
func (p *Pending) Expect(sessionID string) <-chan *types.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.waiters[sessionID]
	if !ok {
		ch = make(chan *types.Envelope, 1)
		p.waiters[sessionID] = ch
	}
	return ch
}

// Resolve 把回复交给等待者，没有登记时返回 false。
// 登记保留到 Await 返回或 Cancel，重复的回复被丢弃。
func (p *Pending) Resolve(env *types.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.waiters[env.SessionID]
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// Cancel 放弃等待
func (p *Pending) Cancel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, sessionID)
}

// Len 等待中的会话数
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Await 等待会话的回复，超时返回 TIMEOUT 错误。返回时登记被移除。
func (p *Pending) Await(ctx context.Context, sessionID string, timeout time.Duration) (*types.Envelope, error) {
	ch := p.Expect(sessionID)
	defer p.Cancel(sessionID)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case env := <-ch:
		return env, nil
	case <-timer:
		return nil, types.NewError(types.ErrTimeout, "no task_result for session "+sessionID).WithRetryable(true)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
