package handler

import (
	"context"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/d60-Lab/job-portal/internal/api/middleware"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/service"
	"github.com/d60-Lab/job-portal/pkg/response"
)

type sendMessageRequest struct {
	Content     string `json:"content" form:"content" binding:"max=5000"`
	MessageType string `json:"messageType" form:"messageType"`
}

type employerReplyRequest struct {
	Email       string `json:"email" form:"email"`
	Content     string `json:"content" form:"content" binding:"max=5000"`
	MessageType string `json:"messageType" form:"messageType"`
}

type markReadRequest struct {
	MessageIDs []uint `json:"messageIds"`
}

type guestTokenRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// pendingAttachment 附件在服务层检查通过后才落盘；发送失败时删除
type pendingAttachment struct {
	c    *gin.Context
	file *multipart.FileHeader
	dir  string
	path string
}

// attachment 仅在 messageType=file 且带文件时返回；超限直接 400，不写盘
func (h *Handler) attachment(c *gin.Context, messageType string) (*pendingAttachment, bool) {
	if messageType != model.MessageTypeFile {
		return nil, true
	}
	file, err := c.FormFile("attachment")
	if err != nil {
		return nil, true
	}
	if file.Size > h.maxAttachment {
		response.BadRequest(c, "attachment too large")
		return nil, false
	}
	return &pendingAttachment{c: c, file: file, dir: h.uploadDir}, true
}

func (p *pendingAttachment) upload() service.Upload {
	if p == nil {
		return nil
	}
	return func(context.Context) (*service.Attachment, error) {
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			return nil, err
		}
		dst := filepath.Join(p.dir, "message_"+uuid.NewString()+filepath.Ext(p.file.Filename))
		if err := p.c.SaveUploadedFile(p.file, dst); err != nil {
			return nil, err
		}
		p.path = dst
		return &service.Attachment{URL: filepath.ToSlash(dst), Name: p.file.Filename}, nil
	}
}

func (p *pendingAttachment) discard() {
	if p == nil || p.path == "" {
		return
	}
	_ = os.Remove(p.path)
	p.path = ""
}

// SendAdminMessage 管理员回复雇主
// @Summary 管理员发送消息
// @Tags 消息
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param id path int true "请求 ID"
// @Param request body sendMessageRequest true "消息内容"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/messaging/admin/{id}/send [post]
func (h *Handler) SendAdminMessage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	pending, ok := h.attachment(c, req.MessageType)
	if !ok {
		return
	}
	claims, _ := middleware.Claims(c)
	msg, err := h.messaging.SendAdminMessage(c.Request.Context(), service.AdminMessageInput{
		RequestID:   id,
		AdminID:     claims.UserID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Upload:      pending.upload(),
	})
	if err != nil {
		pending.discard()
		fail(c, err)
		return
	}
	response.Created(c, "message sent", msg)
}

// SendEmployerReply 雇主回复，凭请求邮箱或访客令牌
// @Summary 雇主回复消息
// @Tags 消息
// @Accept json,mpfd
// @Produce json
// @Param id path int true "请求 ID"
// @Param request body employerReplyRequest true "回复内容"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/messaging/employer/{id}/reply [post]
func (h *Handler) SendEmployerReply(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req employerReplyRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	email := req.Email
	if claims, ok := middleware.Claims(c); ok && claims.Role == model.RoleEmployerGuest && claims.RequestID == id {
		email = claims.Email
	}
	pending, ok := h.attachment(c, req.MessageType)
	if !ok {
		return
	}
	msg, err := h.messaging.SendEmployerReply(c.Request.Context(), service.EmployerReplyInput{
		RequestID:   id,
		Email:       email,
		Content:     req.Content,
		MessageType: req.MessageType,
		Upload:      pending.upload(),
	})
	if err != nil {
		pending.discard()
		fail(c, err)
		return
	}
	response.Created(c, "reply sent", msg)
}

// GetConversation 会话消息；管理员、访客令牌或 ?email= 均可读取
// @Summary 获取会话
// @Tags 消息
// @Produce json
// @Param id path int true "请求 ID"
// @Param email query string false "雇主邮箱"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/messaging/conversation/{id} [get]
func (h *Handler) GetConversation(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	viewer := service.Viewer{Email: c.Query("email")}
	if claims, ok := middleware.Claims(c); ok {
		viewer.Role = claims.Role
		viewer.RequestID = claims.RequestID
		if viewer.Email == "" {
			viewer.Email = claims.Email
		}
	}
	conv, err := h.messaging.GetConversation(c.Request.Context(), id, viewer)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, conv)
}

// MarkRead 标记已读
// @Summary 标记消息已读
// @Tags 消息
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "请求 ID"
// @Param request body markReadRequest true "消息 ID 列表"
// @Success 200 {object} response.Response
// @Router /api/v1/messaging/conversation/{id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	claims, _ := middleware.Claims(c)
	if claims.Role == model.RoleEmployerGuest && claims.RequestID != id {
		response.Forbidden(c, service.ErrAccessDenied.Error())
		return
	}
	n, err := h.messaging.MarkRead(c.Request.Context(), id, claims.Role, req.MessageIDs)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// UnreadCount 当前身份的未读数
// @Summary 未读消息数
// @Tags 消息
// @Produce json
// @Security BearerAuth
// @Param id path int true "请求 ID"
// @Success 200 {object} response.Response
// @Router /api/v1/messaging/conversation/{id}/unread [get]
func (h *Handler) UnreadCount(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	claims, _ := middleware.Claims(c)
	if claims.Role == model.RoleEmployerGuest && claims.RequestID != id {
		response.Forbidden(c, service.ErrAccessDenied.Error())
		return
	}
	n := h.messaging.UnreadCount(c.Request.Context(), id, claims.Role)
	response.Success(c, gin.H{"requestId": id, "unreadCount": n})
}

// ListConversations 管理员会话列表
// @Summary 会话列表
// @Tags 消息
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response
// @Router /api/v1/messaging/admin/conversations [get]
func (h *Handler) ListConversations(c *gin.Context) {
	page, err := h.messaging.ListConversations(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 10))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

// IssueGuestToken 雇主凭请求邮箱换取 WebSocket 访客令牌
// @Summary 获取访客令牌
// @Tags 消息
// @Accept json
// @Produce json
// @Param id path int true "请求 ID"
// @Param request body guestTokenRequest true "请求邮箱"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/messaging/employer/{id}/ws-token [post]
func (h *Handler) IssueGuestToken(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req guestTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.security.IssueGuestToken(c.Request.Context(), id, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"token": token, "channel": service.EmployerChannel(id)})
}
