package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbridge/api"
	"github.com/BaSui01/agentbridge/trail"
	"github.com/BaSui01/agentbridge/types"
)

const (
	// IdeaSender 想法提交信封的发送方
	IdeaSender = "user_api"
	// TaskProcessNewIdea 想法提交广播的任务名
	TaskProcessNewIdea = "process_new_idea"
	// IdeaEntityType 想法轨迹的实体类型
	IdeaEntityType = "idea"
)

// =============================================================================
// 💡 想法 Handler
// =============================================================================

// IdeaHandler 把用户提交的想法广播到协调频道
type IdeaHandler struct {
	router EnvelopeRouter
	trail  TrailStore
	now    func() time.Time
	logger *zap.Logger
}

// NewIdeaHandler 创建想法 Handler。trail 可为 nil，此时不记录也无法查询。
func NewIdeaHandler(router EnvelopeRouter, store TrailStore, logger *zap.Logger) *IdeaHandler {
	return &IdeaHandler{
		router: router,
		trail:  store,
		now:    time.Now,
		logger: logger.With(zap.String("handler", "idea")),
	}
}

// HandleSubmit 处理 POST /api/ideas/submit
// @Summary 提交想法
// @Description 以 process_new_idea 广播到协调频道，会话 ID 为 idea-<unix 纳秒>
// @Tags 想法
// @Accept json
// @Produce json
// @Param request body api.IdeaSubmission true "想法"
// @Success 200 {object} api.IdeaSubmitResponse "处理中"
// @Failure 400 {object} Response "字段缺失"
// @Failure 503 {object} Response "总线不可用"
// @Router /api/ideas/submit [post]
func (h *IdeaHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var idea api.IdeaSubmission
	if err := decodeJSON(w, r, &idea); err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(idea.Title) == "" || strings.TrimSpace(idea.Description) == "" {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "title and description are required"), h.logger)
		return
	}

	now := h.now().UTC()
	sessionID := fmt.Sprintf("idea-%d", now.UnixNano())
	data := map[string]any{
		"title":       idea.Title,
		"description": idea.Description,
		"category":    idea.Category,
	}

	if _, err := h.router.Route(r.Context(), &types.Envelope{
		From:      IdeaSender,
		To:        types.BroadcastAddress,
		Task:      TaskProcessNewIdea,
		Context:   map[string]any{"idea": data},
		SessionID: sessionID,
		Priority:  1,
		Timestamp: now,
	}); err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}

	if h.trail != nil {
		if _, err := h.trail.Append(r.Context(), trail.Entry{
			EntityType: IdeaEntityType,
			EntityID:   sessionID,
			Action:     "submitted",
			Data:       data,
			Timestamp:  now,
		}); err != nil {
			// 广播已发出，轨迹失败只记日志
			h.logger.Warn("idea trail append failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	h.logger.Info("idea submitted", zap.String("session_id", sessionID))
	WriteJSON(w, http.StatusOK, api.IdeaSubmitResponse{
		SessionID: sessionID,
		Status:    "processing",
		Message:   "Your idea is being analyzed. Claude and Codex are working together!",
	})
}

// HandleGet 处理 GET /api/ideas/{id}
// @Summary 查询想法
// @Description status 为最近一条轨迹的 action
// @Tags 想法
// @Produce json
// @Param id path string true "想法会话 ID"
// @Success 200 {object} api.IdeaResponse "想法轨迹"
// @Failure 404 {object} Response "未找到"
// @Failure 503 {object} Response "轨迹存储不可用"
// @Router /api/ideas/{id} [get]
func (h *IdeaHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		WriteRequestError(w, r, errTrailDisabled(), h.logger)
		return
	}

	id := r.PathValue("id")
	entries, err := h.trail.Read(r.Context(), IdeaEntityType, id)
	if err != nil {
		WriteRequestError(w, r, storeError(err), h.logger)
		return
	}
	if len(entries) == 0 {
		WriteRequestError(w, r, types.NewError(types.ErrNotFound, fmt.Sprintf("idea %q not found", id)), h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, api.IdeaResponse{
		IdeaID: id,
		Status: entries[0].Action,
		Trail:  toTrailEntries(entries),
	})
}
