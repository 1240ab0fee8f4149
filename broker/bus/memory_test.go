package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentbridge/types"
)

func recv(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

// =============================================================================
// 🧪 MemoryBus 测试
// =============================================================================

func TestMemoryBus_PublishWithoutSubscriber(t *testing.T) {
	b := NewMemoryBus(0, nil, zap.NewNop())
	defer b.Close()

	n, err := b.Publish(context.Background(), "llm:nobody", []byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, n)

	// 无积压：之后订阅的人收不到之前的消息
	sub, err := b.Subscribe(context.Background(), "llm:nobody")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected backlog delivery: %s", msg.Payload)
	default:
	}
}

func TestMemoryBus_MultiChannelSubscription(t *testing.T) {
	b := NewMemoryBus(0, nil, zap.NewNop())
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, types.ChannelFor("codex-rpi5"), types.CoordinationChannel)
	require.NoError(t, err)
	defer sub.Close()

	n, err := b.Publish(ctx, "llm:codex-rpi5", []byte("direct"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = b.Publish(ctx, types.CoordinationChannel, []byte("broadcast"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	first := recv(t, sub)
	assert.Equal(t, "llm:codex-rpi5", first.Channel)
	assert.Equal(t, "direct", string(first.Payload))

	second := recv(t, sub)
	assert.Equal(t, types.CoordinationChannel, second.Channel)
}

func TestMemoryBus_BroadcastReachesEverySubscriber(t *testing.T) {
	b := NewMemoryBus(0, nil, zap.NewNop())
	defer b.Close()
	ctx := context.Background()

	subs := make([]Subscription, 3)
	for i := range subs {
		sub, err := b.Subscribe(ctx, types.CoordinationChannel)
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	n, err := b.Publish(ctx, types.CoordinationChannel, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	for _, sub := range subs {
		assert.Equal(t, "hello", string(recv(t, sub).Payload))
	}
}

func TestMemoryBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemoryBus(1, nil, zap.NewNop())
	defer b.Close()
	ctx := context.Background()

	slow, err := b.Subscribe(ctx, "llm:slow")
	require.NoError(t, err)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _ = b.Publish(ctx, "llm:slow", []byte(fmt.Sprint(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	assert.Equal(t, "0", string(recv(t, slow).Payload))
}

func TestMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBus(0, nil, zap.NewNop())
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "llm:a", "llm:b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.subscribers("llm:a"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.subscribers("llm:a"))
	assert.Equal(t, 0, b.subscribers("llm:b"))

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	require.NoError(t, b.Close())
	require.NoError(t, sub.Close())
	_, err = b.Publish(ctx, "llm:a", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

// 并发订阅/退订不影响其他订阅者的投递
func TestMemoryBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := NewMemoryBus(1024, nil, zap.NewNop())
	defer b.Close()
	ctx := context.Background()

	stable, err := b.Subscribe(ctx, types.CoordinationChannel)
	require.NoError(t, err)
	defer stable.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := b.Subscribe(ctx, types.CoordinationChannel)
				if err != nil {
					return
				}
				_ = sub.Close()
			}
		}()
	}

	const total = 200
	for i := 0; i < total; i++ {
		_, err := b.Publish(ctx, types.CoordinationChannel, []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		assert.Equal(t, fmt.Sprint(i), string(recv(t, stable).Payload))
	}
}

// =============================================================================
// 🎲 属性测试
// =============================================================================

// 同一通道上发布的消息按发布顺序到达
func TestProperty_PerChannelOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewMemoryBus(1024, nil, zap.NewNop())
		defer b.Close()
		ctx := context.Background()

		channels := []string{"llm:a", "llm:b", types.CoordinationChannel}
		sub, err := b.Subscribe(ctx, channels...)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Close()

		picks := rapid.SliceOfN(rapid.IntRange(0, len(channels)-1), 1, 200).Draw(t, "picks")
		sent := make(map[string][]string)
		for i, p := range picks {
			ch := channels[p]
			payload := fmt.Sprint(i)
			if _, err := b.Publish(ctx, ch, []byte(payload)); err != nil {
				t.Fatalf("publish: %v", err)
			}
			sent[ch] = append(sent[ch], payload)
		}

		got := make(map[string][]string)
		for range picks {
			msg := <-sub.Messages()
			got[msg.Channel] = append(got[msg.Channel], string(msg.Payload))
		}
		for ch, want := range sent {
			if fmt.Sprint(got[ch]) != fmt.Sprint(want) {
				t.Fatalf("channel %s order = %v, want %v", ch, got[ch], want)
			}
		}
	})
}
