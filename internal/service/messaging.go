package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d60-Lab/job-portal/internal/cache"
	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/repository"
	"github.com/d60-Lab/job-portal/pkg/besteffort"
)

// Attachment 已落盘的附件
type Attachment struct {
	URL  string
	Name string
}

// Upload 延迟落盘：只在限流、归属与状态检查都通过后调用
type Upload func(ctx context.Context) (*Attachment, error)

type AdminMessageInput struct {
	RequestID   uint
	AdminID     string
	Content     string
	MessageType string
	Attachment  *Attachment
	Upload      Upload
}

type EmployerReplyInput struct {
	RequestID   uint
	Email       string
	Content     string
	MessageType string
	Attachment  *Attachment
	Upload      Upload
}

// Viewer 会话的读取方。Role 为空表示未登录（凭邮箱访问）。
type Viewer struct {
	Role      string
	Email     string
	RequestID uint // 访客令牌绑定的请求
}

type Conversation struct {
	RequestID     uint            `json:"requestId"`
	EmployerEmail string          `json:"employerEmail"`
	EmployerName  string          `json:"employerName"`
	Messages      []model.Message `json:"messages"`
	UnreadCount   int64           `json:"unreadCount"`
}

type ConversationSummary struct {
	model.EmployerRequest
	LatestMessage *model.Message `json:"latestMessage,omitempty"`
	MessageCount  int64          `json:"messageCount"`
	UnreadCount   int64          `json:"unreadCount"`
}

type ConversationPage struct {
	Requests   []ConversationSummary `json:"requests"`
	Pagination Pagination            `json:"pagination"`
}

// MessagePayload new_message 事件里的消息体
type MessagePayload struct {
	ID             uint      `json:"id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	AttachmentURL  *string   `json:"attachmentUrl"`
	AttachmentName *string   `json:"attachmentName"`
	FromAdmin      bool      `json:"fromAdmin"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewMessageEvent(m *model.Message) gateway.Frame {
	return gateway.Frame{
		Type: gateway.FrameNewMessage,
		Message: MessagePayload{
			ID:             m.ID,
			Content:        m.Content,
			MessageType:    m.MessageType,
			AttachmentURL:  m.AttachmentURL,
			AttachmentName: m.AttachmentName,
			FromAdmin:      m.FromAdmin,
			CreatedAt:      m.CreatedAt,
		},
	}
}

func EmployerChannel(requestID uint) string { return fmt.Sprintf("employer_%d", requestID) }
func AdminChannel(requestID uint) string    { return fmt.Sprintf("admin_%d", requestID) }

type MessagingService interface {
	SendAdminMessage(ctx context.Context, in AdminMessageInput) (*model.Message, error)
	SendEmployerReply(ctx context.Context, in EmployerReplyInput) (*model.Message, error)
	GetConversation(ctx context.Context, requestID uint, viewer Viewer) (*Conversation, error)
	MarkRead(ctx context.Context, requestID uint, role string, messageIDs []uint) (int64, error)
	UnreadCount(ctx context.Context, requestID uint, role string) int64
	ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error)
}

type MessagingLimits struct {
	Admin    Limit
	Employer Limit
}

// MessagingDeps 消息服务依赖；Pusher 可为 nil
type MessagingDeps struct {
	Requests repository.RequestRepository
	Messages repository.MessageRepository
	Cache    MessageCache
	Unread   UnreadTracker
	Events   EventPublisher
	Limiter  RateLimiter
	Pusher   RealtimePusher
	Composer MailComposer
	Mail     mailer.Sender
	Runner   *besteffort.Runner
	Limits   MessagingLimits
}

type messagingService struct {
	MessagingDeps
}

func NewMessagingService(deps MessagingDeps) MessagingService {
	if deps.Runner == nil {
		deps.Runner = besteffort.New(nil, nil)
	}
	return &messagingService{MessagingDeps: deps}
}

func normalizeMessage(content, messageType string) (string, string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", ErrContentRequired
	}
	switch messageType {
	case "":
		messageType = model.MessageTypeText
	case model.MessageTypeText, model.MessageTypeFile:
	default:
		return "", "", ErrInvalidMessageType
	}
	return content, messageType, nil
}

func (s *messagingService) findRequest(ctx context.Context, id uint) (*model.EmployerRequest, error) {
	req, err := s.Requests.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ensureOpen 已批准、取消或完成的请求不再允许沟通
func ensureOpen(req *model.EmployerRequest) error {
	if !req.AcceptsMessages() {
		return fmt.Errorf("%w: request is %s", ErrConversationClosed, req.Status)
	}
	return nil
}

func (s *messagingService) SendAdminMessage(ctx context.Context, in AdminMessageInput) (*model.Message, error) {
	content, mtype, err := normalizeMessage(in.Content, in.MessageType)
	if err != nil {
		return nil, err
	}
	if !s.Limiter.Allow(ctx, "admin_message:"+in.AdminID, s.Limits.Admin.Limit, s.Limits.Admin.Window) {
		return nil, ErrRateLimited
	}
	req, err := s.findRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if err := ensureOpen(req); err != nil {
		return nil, err
	}
	att, err := resolveAttachment(ctx, mtype, in.Attachment, in.Upload)
	if err != nil {
		return nil, err
	}

	msg := newMessage(req.ID, true, req.Email, content, mtype, att)
	if err := s.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, msg)
	s.Runner.Do(ctx, "email.admin_reply", func(ctx context.Context) error {
		m, err := s.Composer.AdminReply(req.Email, req.Name, content, msg.AttachmentName)
		if err != nil {
			return err
		}
		return s.Mail.Send(ctx, m)
	})
	s.Runner.Do(ctx, "unread.increment", func(ctx context.Context) error {
		_, err := s.Unread.Increment(ctx, UnreadRoleEmployer, req.ID)
		return err
	})
	s.Runner.Do(ctx, "publish.new_message", func(ctx context.Context) error {
		return s.Events.Publish(ctx, EmployerChannel(req.ID), NewMessageEvent(msg))
	})
	return msg, nil
}

func (s *messagingService) SendEmployerReply(ctx context.Context, in EmployerReplyInput) (*model.Message, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	content, mtype, err := normalizeMessage(in.Content, in.MessageType)
	if err != nil {
		return nil, err
	}
	if !s.Limiter.Allow(ctx, "employer_message:"+strings.ToLower(email), s.Limits.Employer.Limit, s.Limits.Employer.Window) {
		return nil, ErrRateLimited
	}
	req, err := s.findRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.Email, email) {
		// 邮箱不匹配与不存在返回同一错误
		return nil, ErrRequestNotFound
	}
	if err := ensureOpen(req); err != nil {
		return nil, err
	}
	att, err := resolveAttachment(ctx, mtype, in.Attachment, in.Upload)
	if err != nil {
		return nil, err
	}

	msg := newMessage(req.ID, false, req.Email, content, mtype, att)
	if err := s.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, msg)
	s.Runner.Do(ctx, "email.employer_reply", func(ctx context.Context) error {
		m, err := s.Composer.EmployerReply(req.Email, req.Name, content, msg.AttachmentName)
		if err != nil {
			return err
		}
		return s.Mail.Send(ctx, m)
	})
	s.Runner.Do(ctx, "unread.increment", func(ctx context.Context) error {
		_, err := s.Unread.Increment(ctx, UnreadRoleAdmin, req.ID)
		return err
	})
	s.Runner.Do(ctx, "publish.new_message", func(ctx context.Context) error {
		return s.Events.Publish(ctx, AdminChannel(req.ID), NewMessageEvent(msg))
	})
	if s.Pusher != nil {
		s.Runner.Do(ctx, "realtime.dashboard_update", func(context.Context) error {
			s.Pusher.NotifyDashboardUpdate(model.RoleAdmin)
			return nil
		})
	}
	return msg, nil
}

func resolveAttachment(ctx context.Context, mtype string, att *Attachment, upload Upload) (*Attachment, error) {
	if mtype != model.MessageTypeFile || upload == nil {
		return att, nil
	}
	saved, err := upload(ctx)
	if err != nil {
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	return saved, nil
}

func newMessage(requestID uint, fromAdmin bool, email, content, mtype string, att *Attachment) *model.Message {
	msg := &model.Message{
		EmployerRequestID: requestID,
		FromAdmin:         fromAdmin,
		EmployerEmail:     email,
		Content:           content,
		MessageType:       mtype,
	}
	if att != nil && mtype == model.MessageTypeFile {
		url, name := att.URL, att.Name
		msg.AttachmentURL = &url
		msg.AttachmentName = &name
	}
	return msg
}

// afterWrite 缓存新消息并让会话缓存失效
func (s *messagingService) afterWrite(ctx context.Context, msg *model.Message) {
	s.Runner.Do(ctx, "cache.message", func(ctx context.Context) error {
		return s.Cache.CacheMessage(ctx, msg)
	})
	s.Runner.Do(ctx, "cache.invalidate_conversation", func(ctx context.Context) error {
		return s.Cache.InvalidateConversation(ctx, msg.EmployerRequestID)
	})
}

func (s *messagingService) GetConversation(ctx context.Context, requestID uint, viewer Viewer) (*Conversation, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canView(req, viewer) {
		return nil, ErrAccessDenied
	}

	msgs, err := s.Cache.GetConversation(ctx, requestID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.Runner.Do(ctx, "cache.get_conversation", func(context.Context) error { return err })
		}
		msgs, err = s.Messages.ListByRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		s.Runner.Do(ctx, "cache.conversation", func(ctx context.Context) error {
			return s.Cache.CacheConversation(ctx, requestID, msgs)
		})
	}

	if msgs == nil {
		msgs = []model.Message{}
	}
	conv := &Conversation{
		RequestID:     req.ID,
		EmployerEmail: req.Email,
		EmployerName:  req.Name,
		Messages:      msgs,
	}
	if viewer.Role != "" {
		role := UnreadRole(viewer.Role)
		s.Runner.Do(ctx, "unread.mark_read", func(ctx context.Context) error {
			return s.Unread.MarkAsRead(ctx, role, requestID)
		})
		conv.UnreadCount = s.UnreadCount(ctx, requestID, viewer.Role)
	}
	return conv, nil
}

func canView(req *model.EmployerRequest, v Viewer) bool {
	switch {
	case v.Role == model.RoleAdmin:
		return true
	case v.Role == model.RoleEmployerGuest && v.RequestID == req.ID:
		return true
	case v.Email != "" && strings.EqualFold(v.Email, req.Email):
		return true
	}
	return false
}

func (s *messagingService) MarkRead(ctx context.Context, requestID uint, role string, messageIDs []uint) (int64, error) {
	var n int64
	if len(messageIDs) > 0 {
		var err error
		n, err = s.Messages.MarkRead(ctx, requestID, messageIDs, time.Now())
		if err != nil {
			return 0, err
		}
		s.Runner.Do(ctx, "cache.invalidate_conversation", func(ctx context.Context) error {
			return s.Cache.InvalidateConversation(ctx, requestID)
		})
	}
	s.Runner.Do(ctx, "unread.mark_read", func(ctx context.Context) error {
		return s.Unread.MarkAsRead(ctx, UnreadRole(role), requestID)
	})
	return n, nil
}

// UnreadCount 计数不可用时按 0 处理
func (s *messagingService) UnreadCount(ctx context.Context, requestID uint, role string) int64 {
	var n int64
	s.Runner.Do(ctx, "unread.count", func(ctx context.Context) error {
		var err error
		n, err = s.Unread.Count(ctx, UnreadRole(role), requestID)
		return err
	})
	return n
}

func (s *messagingService) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	page, limit = normalizePage(page, limit)
	reqs, total, err := s.Requests.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	latest, err := s.Messages.LatestByRequests(ctx, ids)
	if err != nil {
		return nil, err
	}
	counts, err := s.Messages.CountByRequests(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, len(reqs))
	for i, r := range reqs {
		out[i] = ConversationSummary{
			EmployerRequest: r,
			MessageCount:    counts[r.ID],
			UnreadCount:     s.UnreadCount(ctx, r.ID, model.RoleAdmin),
		}
		if m, ok := latest[r.ID]; ok {
			m := m
			out[i].LatestMessage = &m
		}
	}
	return &ConversationPage{Requests: out, Pagination: newPagination(page, limit, total)}, nil
}
