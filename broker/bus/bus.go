// Package bus is the publish/subscribe fabric that carries envelopes between
// instance channels.
package bus

import (
	"context"
	"errors"

	"github.com/BaSui01/agentbridge/types"
)

// DefaultSubscriberBuffer 每个订阅者的默认缓冲长度
const DefaultSubscriberBuffer = 256

// ErrClosed 总线已关闭
var ErrClosed = errors.New("bus is closed")

// Message 一次投递
type Message struct {
	Channel string
	Payload []byte
}

// Subscription 覆盖一个或多个通道的订阅句柄
type Subscription interface {
	// Messages 按每个通道的发布顺序产出消息，Close 后关闭
	Messages() <-chan Message
	// Close 幂等
	Close() error
}

// Bus 通道总线。没有订阅者时发布是静默丢弃，不报错。
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// kindOf 指标标签
func kindOf(channel string) string {
	if channel == types.CoordinationChannel {
		return "coordination"
	}
	return "instance"
}
