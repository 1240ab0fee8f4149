package registry

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketConn 把 websocket 连接适配为 Conn，写入串行化
type WebSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketConn 包装 websocket 连接
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Write 以文本帧发送一条 JSON 信封
func (c *WebSocketConn) Write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}
