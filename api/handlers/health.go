package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentbridge/api"
)

// DefaultCheckTimeout 单次就绪检查的超时
const DefaultCheckTimeout = 2 * time.Second

// HealthCheck 代理依赖的探活接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// PingCheck 把组件的 Ping 方法包装成 HealthCheck
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建以 ping 探活的检查项
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// =============================================================================
// 🏥 HealthHandler
// =============================================================================

// HealthHandler 存活、就绪、版本与服务横幅
type HealthHandler struct {
	logger       *zap.Logger
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthOption 配置选项
type HealthOption func(*HealthHandler)

// WithCheckTimeout 设置每个检查项的超时
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if d > 0 {
			h.checkTimeout = d
		}
	}
}

// NewHealthHandler 创建处理器
func NewHealthHandler(logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		logger:       logger.With(zap.String("component", "health")),
		started:      time.Now(),
		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterCheck 追加就绪检查项，同名检查项覆盖旧的
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.checks {
		if c.Name() == check.Name() {
			h.checks[i] = check
			return
		}
	}
	h.checks = append(h.checks, check)
}

// HandleRoot 处理 GET /{$}
// @Summary 服务横幅
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ServiceBanner "服务在线"
// @Router / [get]
func (h *HealthHandler) HandleRoot(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, api.ServiceBanner{
			Status:    "online",
			Service:   service,
			Timestamp: time.Now().UTC(),
		})
	}
}

// HandleLive 处理 GET /health 与 /healthz，只说明进程存活，不触碰依赖
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} api.LivenessResponse "进程存活"
// @Router /health [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, api.LivenessResponse{
		Status:    "alive",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	})
}

// HandleReady 处理 GET /ready 与 /readyz，并发探测所有依赖，任一失败返回 503
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ReadinessResponse "依赖全部可用"
// @Failure 503 {object} api.ReadinessResponse "存在不可用的依赖"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]api.CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.probe(r.Context(), check)
			return nil
		})
	}
	_ = g.Wait()

	resp := api.ReadinessResponse{
		Status:    api.ReadyOK,
		Checks:    make(map[string]api.CheckResult, len(checks)),
		Timestamp: time.Now().UTC(),
	}
	for i, check := range checks {
		resp.Checks[check.Name()] = results[i]
		if results[i].Status != api.CheckPass {
			resp.Status = api.ReadyDegraded
		}
	}

	status := http.StatusOK
	if resp.Status != api.ReadyOK {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

func (h *HealthHandler) probe(ctx context.Context, check HealthCheck) api.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	result := api.CheckResult{Status: api.CheckPass, Latency: latency.String()}
	if err != nil {
		result.Status = api.CheckFail
		result.Error = err.Error()
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return result
}

// HandleVersion 处理 GET /version
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} api.VersionInfo "构建信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(info api.VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}
