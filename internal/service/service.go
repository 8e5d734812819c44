package service

import (
	"context"
	"errors"
	"time"

	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
)

var (
	ErrContentRequired    = errors.New("message content is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrRequestNotFound    = errors.New("employer request not found")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidStatus      = errors.New("invalid request status")
)

// 未读计数按「收件方」区分：admin 与 employer
const (
	UnreadRoleAdmin    = "admin"
	UnreadRoleEmployer = "employer"
)

// UnreadRole 把令牌角色映射到未读计数使用的角色
func UnreadRole(role string) string {
	if role == model.RoleAdmin {
		return UnreadRoleAdmin
	}
	return UnreadRoleEmployer
}

// Limit 固定窗口限流参数
type Limit struct {
	Limit  int
	Window time.Duration
}

type MessageCache interface {
	CacheMessage(ctx context.Context, msg *model.Message) error
	GetConversation(ctx context.Context, conversationID uint) ([]model.Message, error)
	CacheConversation(ctx context.Context, conversationID uint, msgs []model.Message) error
	InvalidateConversation(ctx context.Context, conversationID uint) error
}

type UnreadTracker interface {
	Increment(ctx context.Context, role string, conversationID uint) (int64, error)
	Count(ctx context.Context, role string, conversationID uint) (int64, error)
	MarkAsRead(ctx context.Context, role string, conversationID uint) error
}

// EventPublisher 发布到 redis pub/sub
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type SessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
}

// RealtimePusher 直接推送给本进程内的在线连接
type RealtimePusher interface {
	NotifyDashboardUpdate(role string) int
	NotifyNewRequest(req *model.EmployerRequest) int
	NotifyRequestStatusChange(requestID uint, status, role string) int
}

// MailComposer 渲染通知邮件
type MailComposer interface {
	AdminReply(employerEmail, employerName, content string, attachment *string) (mailer.Message, error)
	EmployerReply(employerEmail, employerName, content string, attachment *string) (mailer.Message, error)
	PasswordReset(email, firstName, token string) (mailer.Message, error)
	PasswordResetConfirmation(email string) (mailer.Message, error)
}

// Pagination 列表分页信息
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func newPagination(page, limit int, total int64) Pagination {
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}
