// Package router validates envelopes and publishes them on the channel of
// their destination.
package router

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/broker/bus"
	"github.com/BaSui01/agentbridge/internal/metrics"
	"github.com/BaSui01/agentbridge/internal/telemetry"
	"github.com/BaSui01/agentbridge/trail"
	"github.com/BaSui01/agentbridge/types"
)

// =============================================================================
// 🧭 消息路由
// =============================================================================

// Router 消息路由器。不解析也不修改 context。
type Router struct {
	bus    bus.Bus
	sink   trail.Sink
	now    func() time.Time
	tracer trace.Tracer

	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option 路由器选项
type Option func(*Router)

// WithTrail 发布成功后记录 session 轨迹
func WithTrail(sink trail.Sink) Option {
	return func(r *Router) {
		r.sink = sink
	}
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) {
		r.metrics = c
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New 创建路由器
func New(b bus.Bus, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		bus:    b,
		now:    time.Now,
		tracer: telemetry.Tracer("router"),
		logger: logger.With(zap.String("component", "router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route 校验信封、补全时间戳并发布，返回确认。格式错误的信封不会被发布。
func (r *Router) Route(ctx context.Context, env *types.Envelope) (*types.Ack, error) {
	if env == nil {
		r.metrics.RecordRoute("rejected")
		return nil, types.NewError(types.ErrInvalidEnvelope, "envelope is nil")
	}

	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("envelope.from", env.From),
			attribute.String("envelope.to", env.To),
			attribute.String("envelope.task", env.Task),
			attribute.String("envelope.session_id", env.SessionID),
		),
	)
	defer span.End()

	if err := env.Validate(); err != nil {
		r.metrics.RecordRoute("rejected")
		span.SetStatus(codes.Error, "invalid envelope")
		r.logger.Debug("envelope rejected", zap.String("to", env.To), zap.Error(err))
		return nil, err
	}

	if env.Timestamp.IsZero() {
		env.Timestamp = r.now().UTC()
	}

	payload, err := env.Marshal()
	if err != nil {
		r.metrics.RecordRoute("error")
		span.RecordError(err)
		return nil, types.NewError(types.ErrInternalError, "encode envelope").WithCause(err)
	}

	channel := env.Destination()
	receivers, err := r.bus.Publish(ctx, channel, payload)
	if err != nil {
		r.metrics.RecordRoute("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.logger.Error("publish failed", zap.String("channel", channel), zap.Error(err))
		return nil, types.NewError(types.ErrServiceUnavailable, "publish failed").WithCause(err).WithRetryable(true)
	}
	span.SetAttributes(
		attribute.String("bus.channel", channel),
		attribute.Int64("bus.receivers", receivers),
	)
	r.metrics.RecordRoute("sent")

	r.logger.Debug("envelope routed",
		zap.String("from", env.From),
		zap.String("to", env.To),
		zap.String("task", env.Task),
		zap.String("session_id", env.SessionID),
		zap.Int64("receivers", receivers),
	)

	r.record(ctx, env, channel)

	return &types.Ack{Status: types.AckSent, Channel: channel, Receivers: receivers}, nil
}

// record 写入 session 轨迹，失败只记日志
func (r *Router) record(ctx context.Context, env *types.Envelope, channel string) {
	if r.sink == nil {
		return
	}
	_, err := r.sink.Append(ctx, trail.Entry{
		EntityType: "session",
		EntityID:   env.SessionID,
		Action:     env.Task,
		Data: map[string]any{
			"from":    env.From,
			"to":      env.To,
			"channel": channel,
		},
		Timestamp: env.Timestamp,
	})
	if err != nil {
		r.logger.Warn("session trail append failed", zap.String("session_id", env.SessionID), zap.Error(err))
	}
}
