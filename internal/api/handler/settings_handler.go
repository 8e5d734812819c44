package handler

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/pkg/response"
)

// GetSettings 系统设置
// @Summary 获取系统设置
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/admin/settings [get]
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, s)
}

// UpdateSettings 局部更新，未给出的字段保持原值
// @Summary 更新系统设置
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.Settings true "设置补丁"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/admin/settings [put]
func (h *Handler) UpdateSettings(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !json.Valid(body) {
		response.BadRequest(c, "invalid json body")
		return
	}
	s, err := h.settings.Update(c.Request.Context(), body)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, s)
}

// GetRealtimeStats 网关连接数、连接明细、在线人数与邮件队列深度
// @Summary 实时连接统计
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/admin/realtime/stats [get]
func (h *Handler) GetRealtimeStats(c *gin.Context) {
	out := gin.H{
		"gateway":     h.realtime.Stats(),
		"connections": h.realtime.Connections(),
	}
	if h.presence != nil {
		if n, err := h.presence.OnlineCount(c.Request.Context()); err == nil {
			out["onlineUsers"] = n
		}
	}
	if h.mailQueue != nil {
		out["mailQueue"] = h.mailQueue.QueueLen()
	}
	response.Success(c, out)
}

type systemMessageRequest struct {
	Message string `json:"message" binding:"required,max=1000"`
	Role    string `json:"role" binding:"omitempty,oneof=admin employer-guest"`
}

// SendSystemMessage 向某角色的在线连接广播系统消息，默认管理员
// @Summary 广播系统消息
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body systemMessageRequest true "消息"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/realtime/system-message [post]
func (h *Handler) SendSystemMessage(c *gin.Context) {
	var req systemMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleAdmin
	}
	n := h.realtime.NotifySystemMessage(req.Message, req.Role)
	response.Success(c, gin.H{"role": req.Role, "delivered": n})
}
