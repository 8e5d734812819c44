package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/service"
	"github.com/d60-Lab/job-portal/pkg/response"
)

const defaultMaxAttachment = 10 << 20

// Realtime 网关统计与系统广播
type Realtime interface {
	Stats() gateway.Stats
	Connections() []gateway.ConnInfo
	NotifySystemMessage(message, role string) int
}

// MailQueue 异步邮件队列深度
type MailQueue interface {
	QueueLen() int
}

// OnlineCounter 跨实例在线人数
type OnlineCounter interface {
	OnlineCount(ctx context.Context) (int64, error)
}

type Options struct {
	Messaging     service.MessagingService
	Requests      service.RequestService
	Security      service.SecurityService
	Settings      service.SettingsService
	Realtime      Realtime
	Presence      OnlineCounter
	MailQueue     MailQueue
	UploadDir     string
	MaxAttachment int64
}

type Handler struct {
	messaging     service.MessagingService
	requests      service.RequestService
	security      service.SecurityService
	settings      service.SettingsService
	realtime      Realtime
	presence      OnlineCounter
	mailQueue     MailQueue
	uploadDir     string
	maxAttachment int64
}

func New(opts Options) *Handler {
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads/messages"
	}
	if opts.MaxAttachment <= 0 {
		opts.MaxAttachment = defaultMaxAttachment
	}
	return &Handler{
		messaging:     opts.Messaging,
		requests:      opts.Requests,
		security:      opts.Security,
		settings:      opts.Settings,
		realtime:      opts.Realtime,
		presence:      opts.Presence,
		mailQueue:     opts.MailQueue,
		uploadDir:     opts.UploadDir,
		maxAttachment: opts.MaxAttachment,
	}
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// fail 业务错误到 HTTP 状态码
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		response.TooManyRequests(c, "too many requests, please try again later")
	case errors.Is(err, service.ErrRequestNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidRefreshToken):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrContentRequired),
		errors.Is(err, service.ErrEmailRequired),
		errors.Is(err, service.ErrInvalidMessageType),
		errors.Is(err, service.ErrConversationClosed),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidResetToken),
		errors.Is(err, service.ErrPasswordTooShort),
		errors.Is(err, service.ErrInvalidSettings):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
