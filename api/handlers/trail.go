package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/trail"
	"github.com/BaSui01/agentbridge/types"
)

// TrailStore 轨迹读写
type TrailStore interface {
	Append(ctx context.Context, entry trail.Entry) (string, error)
	Read(ctx context.Context, entityType, entityID string) ([]trail.Entry, error)
}

// =============================================================================
// 📜 轨迹 Handler
// =============================================================================

// TrailHandler 处理轨迹写入与查询。store 为 nil 时所有请求返回 503。
type TrailHandler struct {
	store  TrailStore
	logger *zap.Logger
}

// NewTrailHandler 创建轨迹 Handler
func NewTrailHandler(store TrailStore, logger *zap.Logger) *TrailHandler {
	return &TrailHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "trail")),
	}
}

// HandleUpdate 处理 POST /api/paper-trail/update
// @Summary 追加轨迹
// @Tags 轨迹
// @Accept json
// @Produce json
// @Param request body api.TrailUpdateRequest true "轨迹记录"
// @Success 200 {object} api.TrailUpdateResponse "已写入"
// @Failure 400 {object} Response "字段缺失"
// @Failure 503 {object} Response "轨迹存储不可用"
// @Router /api/paper-trail/update [post]
func (h *TrailHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	var req api.TrailUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}

	key, err := h.store.Append(r.Context(), trail.Entry{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Action:     req.Action,
		Data:       req.Data,
	})
	if err != nil {
		WriteRequestError(w, r, storeError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.TrailUpdateResponse{Status: "updated", Key: key})
}

// HandleGet 处理 GET /api/paper-trail/{type}/{id}
// @Summary 查询实体轨迹
// @Tags 轨迹
// @Produce json
// @Param type path string true "实体类型"
// @Param id path string true "实体 ID"
// @Success 200 {object} api.TrailResponse "轨迹，最新在前"
// @Failure 503 {object} Response "轨迹存储不可用"
// @Router /api/paper-trail/{type}/{id} [get]
func (h *TrailHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	entityType, entityID := r.PathValue("type"), r.PathValue("id")
	entries, err := h.store.Read(r.Context(), entityType, entityID)
	if err != nil {
		WriteRequestError(w, r, storeError(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.TrailResponse{
		EntityType: entityType,
		EntityID:   entityID,
		Trail:      toTrailEntries(entries),
	})
}

func (h *TrailHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.store != nil {
		return true
	}
	WriteRequestError(w, r, errTrailDisabled(), h.logger)
	return false
}

func errTrailDisabled() *types.Error {
	return types.NewError(types.ErrServiceUnavailable, "paper trail is not configured")
}

// storeError 保留校验错误，其余视为后端不可用
func storeError(err error) *types.Error {
	if code := types.GetErrorCode(err); code != "" {
		return AsError(err)
	}
	return types.NewError(types.ErrServiceUnavailable, "paper trail unavailable").
		WithCause(err).
		WithRetryable(true)
}

func toTrailEntries(entries []trail.Entry) []api.TrailEntry {
	out := make([]api.TrailEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.TrailEntry{Action: e.Action, Data: e.Data, Timestamp: e.Timestamp})
	}
	return out
}
