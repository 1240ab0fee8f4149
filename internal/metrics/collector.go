// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil Collector 的所有记录方法都是空操作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 总线指标
	busPublishedTotal *prometheus.CounterVec
	busDroppedTotal   *prometheus.CounterVec

	// 连接指标
	connectionsActive  prometheus.Gauge
	connectionsTotal   *prometheus.CounterVec
	forwardedTotal     prometheus.Counter
	forwardErrorsTotal prometheus.Counter

	// 路由指标
	routedTotal *prometheus.CounterVec

	// 在线状态指标
	heartbeatsTotal *prometheus.CounterVec

	// 任务分发指标
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// 轨迹指标
	trailAppendsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.busPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Total number of payloads published on the channel bus",
		},
		[]string{"kind", "delivered"}, // kind: instance, coordination
	)

	c.busDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Total number of deliveries dropped because a subscriber buffer was full",
		},
		[]string{"kind"},
	)

	c.connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of live instance connections",
		},
	)

	c.connectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connection lifecycle events",
		},
		[]string{"event"}, // event: registered, deregistered
	)

	c.forwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Total number of payloads written to live connections",
		},
	)

	c.forwardErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_errors_total",
			Help:      "Total number of failed connection writes",
		},
	)

	c.routedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_routed_total",
			Help:      "Total number of envelopes handled by the router",
		},
		[]string{"result"}, // result: sent, rejected, error
	)

	c.heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of presence heartbeats",
		},
		[]string{"status"},
	)

	c.dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total number of dispatched tasks",
		},
		[]string{"role", "state"},
	)

	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Task handler duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"role"},
	)

	c.trailAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trail_appends_total",
			Help:      "Total number of paper trail appends",
		},
		[]string{"status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 📡 总线与连接指标记录
// =============================================================================

// RecordPublish 记录一次发布
func (c *Collector) RecordPublish(kind string, receivers int64) {
	if c == nil {
		return
	}
	delivered := "true"
	if receivers == 0 {
		delivered = "false"
	}
	c.busPublishedTotal.WithLabelValues(kind, delivered).Inc()
}

// RecordDrop 记录一次因缓冲区满而丢弃的投递
func (c *Collector) RecordDrop(kind string) {
	if c == nil {
		return
	}
	c.busDroppedTotal.WithLabelValues(kind).Inc()
}

// RecordConnectionOpened 记录连接注册
func (c *Collector) RecordConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
	c.connectionsTotal.WithLabelValues("registered").Inc()
}

// RecordConnectionClosed 记录连接注销
func (c *Collector) RecordConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
	c.connectionsTotal.WithLabelValues("deregistered").Inc()
}

// RecordForward 记录一次连接写入
func (c *Collector) RecordForward(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.forwardErrorsTotal.Inc()
		return
	}
	c.forwardedTotal.Inc()
}

// =============================================================================
// 🧭 路由 / 在线 / 分发指标记录
// =============================================================================

// RecordRoute 记录路由结果
func (c *Collector) RecordRoute(result string) {
	if c == nil {
		return
	}
	c.routedTotal.WithLabelValues(result).Inc()
}

// RecordHeartbeat 记录心跳
func (c *Collector) RecordHeartbeat(err error) {
	if c == nil {
		return
	}
	c.heartbeatsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordDispatch 记录任务分发
func (c *Collector) RecordDispatch(role, state string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(role, state).Inc()
	c.dispatchDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordTrailAppend 记录轨迹写入
func (c *Collector) RecordTrailAppend(err error) {
	if c == nil {
		return
	}
	c.trailAppendsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
