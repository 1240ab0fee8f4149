package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/broker/presence"
	"github.com/BaSui01/agentbridge/broker/registry"
	"github.com/BaSui01/agentbridge/types"
)

// statusTimeout 状态查询中每个后端的超时
const statusTimeout = 3 * time.Second

// EnvelopeRouter 路由信封
type EnvelopeRouter interface {
	Route(ctx context.Context, env *types.Envelope) (*types.Ack, error)
}

// Pinger 可探活的后端
type Pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// 📡 协调代理 Handler
// =============================================================================

// BrokerHandler 处理消息投递、实时通道、心跳与系统状态
type BrokerHandler struct {
	router   EnvelopeRouter
	registry *registry.Registry
	presence presence.Store
	bus      Pinger
	trail    Pinger

	known          []string
	originPatterns []string
	logger         *zap.Logger
}

// BrokerOption BrokerHandler 选项
type BrokerOption func(*BrokerHandler)

// WithTrailPinger 状态中报告轨迹服务，未设置时报告 offline
func WithTrailPinger(p Pinger) BrokerOption {
	return func(h *BrokerHandler) {
		h.trail = p
	}
}

// WithKnownInstances 状态中列出的实例
func WithKnownInstances(names []string) BrokerOption {
	return func(h *BrokerHandler) {
		h.known = append([]string(nil), names...)
	}
}

// WithOriginPatterns 允许跨源 websocket 握手的 Origin 模式
func WithOriginPatterns(patterns []string) BrokerOption {
	return func(h *BrokerHandler) {
		h.originPatterns = append([]string(nil), patterns...)
	}
}

// NewBrokerHandler 创建协调代理 Handler
func NewBrokerHandler(router EnvelopeRouter, reg *registry.Registry, store presence.Store, bus Pinger, logger *zap.Logger, opts ...BrokerOption) *BrokerHandler {
	h := &BrokerHandler{
		router:   router,
		registry: reg,
		presence: store,
		bus:      bus,
		logger:   logger.With(zap.String("handler", "broker")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleMessage 处理 POST /api/llm/message
// @Summary 发送实例间消息
// @Description 把信封发布到目标实例频道，"*" 发布到协调频道。目标离线不报错。
// @Tags 协调
// @Accept json
// @Produce json
// @Param request body api.MessageRequest true "消息"
// @Success 200 {object} types.Ack "已发布"
// @Failure 400 {object} Response "信封不合法"
// @Failure 503 {object} Response "总线不可用"
// @Router /api/llm/message [post]
func (h *BrokerHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req api.MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}

	ack, err := h.router.Route(r.Context(), req.Envelope())
	if err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, ack)
}

// HandleHeartbeat 处理 POST /api/system/llm/heartbeat/{name}
// @Summary 实例心跳
// @Tags 协调
// @Produce json
// @Param name path string true "实例名"
// @Success 200 {object} api.HeartbeatResponse "已刷新"
// @Failure 400 {object} Response "实例名不合法"
// @Failure 503 {object} Response "在线状态存储不可用"
// @Router /api/system/llm/heartbeat/{name} [post]
func (h *BrokerHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !types.ValidInstanceName(name) {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid instance name %q", name)), h.logger)
		return
	}

	if err := h.presence.Heartbeat(r.Context(), name); err != nil {
		WriteRequestError(w, r, types.NewError(types.ErrServiceUnavailable, "presence store unavailable").
			WithCause(err).
			WithRetryable(true), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.HeartbeatResponse{Status: api.HeartbeatAcknowledged, LLM: name})
}

// HandleWebSocket 处理 GET /ws/llm/{name}
// @Summary 实例实时通道
// @Description 升级为 websocket，推送 llm:{name} 与 llm:coordination 上的信封。只读，客户端发送的帧被丢弃。
// @Tags 协调
// @Param name path string true "实例名"
// @Router /ws/llm/{name} [get]
func (h *BrokerHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !types.ValidInstanceName(name) {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid instance name %q", name)), h.logger)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket accept failed", zap.String("llm", name), zap.Error(err))
		return
	}

	ctx := ws.CloseRead(r.Context())
	handle, err := h.registry.Register(ctx, name, registry.NewWebSocketConn(ws))
	if err != nil {
		h.logger.Error("register connection failed", zap.String("llm", name), zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "register failed")
		return
	}

	select {
	case <-ctx.Done():
		// 客户端断开
		h.registry.Deregister(handle)
	case <-handle.Done():
		// 写入失败或代理关闭
		_ = ws.Close(websocket.StatusGoingAway, "connection closed by broker")
	}
}

// HandleStatus 处理 GET /api/system/status
// @Summary 系统状态
// @Description 已知实例的在线状态、实时连接数与后端服务状态
// @Tags 协调
// @Produce json
// @Success 200 {object} api.StatusResponse "状态"
// @Router /api/system/status [get]
func (h *BrokerHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	resp := api.StatusResponse{
		Timestamp:   time.Now().UTC(),
		Connections: make(map[string]int, len(h.known)),
	}
	resp.LLMInstances = presence.ListStatus(ctx, h.presence, h.known)
	for _, name := range h.known {
		resp.Connections[name] = h.registry.Connections(name)
	}
	resp.Services = h.services(ctx)

	WriteJSON(w, http.StatusOK, resp)
}

// services 并发探活各后端，失败或未配置即 offline
func (h *BrokerHandler) services(ctx context.Context) map[string]types.Status {
	backends := map[string]Pinger{
		api.ServicePresence: h.presence,
		api.ServiceBus:      h.bus,
		api.ServiceTrail:    h.trail,
	}
	results := make(map[string]types.Status, len(backends))
	statuses := make([]types.Status, 0, len(backends))
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
		statuses = append(statuses, types.StatusOffline)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		p := backends[name]
		if p == nil {
			continue
		}
		g.Go(func() error {
			if err := p.Ping(gctx); err != nil {
				h.logger.Debug("service ping failed", zap.String("service", name), zap.Error(err))
				return nil
			}
			statuses[i] = types.StatusOnline
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		results[name] = statuses[i]
	}
	return results
}
