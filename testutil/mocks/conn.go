// Package mocks 提供连接与发送端的测试替身。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentbridge/types"
)

// Conn 记录写入内容的连接，可注入写入错误
type Conn struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
	written  chan struct{}
}

// NewConn 创建记录连接
func NewConn() *Conn {
	return &Conn{written: make(chan struct{}, 64)}
}

// Write 实现 registry.Conn
func (c *Conn) Write(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	select {
	case c.written <- struct{}{}:
	default:
	}
	return nil
}

// FailWith 之后的写入返回 err
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Written 每次成功写入时收到一个信号
func (c *Conn) Written() <-chan struct{} {
	return c.written
}

// Payloads 已写入内容的副本
func (c *Conn) Payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// Sender 记录发送的信封，实现 dispatcher.Sender
type Sender struct {
	mu   sync.Mutex
	sent []*types.Envelope
	err  error
}

// FailWith 之后的发送返回 err
func (s *Sender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Route 记录信封并返回回执
func (s *Sender) Route(_ context.Context, env *types.Envelope) (*types.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, env)
	return &types.Ack{Status: types.AckSent, Channel: env.Destination()}, nil
}

// Sent 已发送信封的副本
func (s *Sender) Sent() []*types.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Envelope(nil), s.sent...)
}
