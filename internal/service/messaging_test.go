package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/job-portal/internal/cache"
	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/repository"
)

type messagingFixture struct {
	db       *gorm.DB
	requests repository.RequestRepository
	messages repository.MessageRepository
	cache    *cache.MessageCache
	unread   *mockUnread
	events   *mockEvents
	mail     *mockSender
	pusher   *fakePusher
	svc      MessagingService
}

func newMessagingFixture(t *testing.T, limits MessagingLimits) *messagingFixture {
	t.Helper()
	db := setupDB(t)
	_, store := setupStore(t)
	f := &messagingFixture{
		db:       db,
		requests: repository.NewRequestRepository(db),
		messages: repository.NewMessageRepository(db),
		cache:    cache.NewMessageCache(store, time.Hour, 30*time.Minute),
		unread:   &mockUnread{},
		events:   &mockEvents{},
		mail:     &mockSender{},
		pusher:   &fakePusher{},
	}
	f.unread.Test(t)
	f.events.Test(t)
	f.mail.Test(t)
	f.svc = NewMessagingService(MessagingDeps{
		Requests: f.requests,
		Messages: f.messages,
		Cache:    f.cache,
		Unread:   f.unread,
		Events:   f.events,
		Limiter:  cache.NewRateLimiter(store),
		Pusher:   f.pusher,
		Composer: mailer.NewComposer("noreply@portal.test", "admin@portal.test", "https://portal.test"),
		Mail:     f.mail,
		Runner:   quietRunner(),
		Limits:   limits,
	})
	return f
}

var defaultLimits = MessagingLimits{
	Admin:    Limit{Limit: 10, Window: time.Minute},
	Employer: Limit{Limit: 5, Window: time.Minute},
}

func (f *messagingFixture) seedRequest(t *testing.T, id uint, status string) *model.EmployerRequest {
	t.Helper()
	req := &model.EmployerRequest{ID: id, Name: "Acme HR", Email: "hr@acme.test", CompanyName: "Acme", Status: status}
	require.NoError(t, f.requests.Create(context.Background(), req))
	return req
}

func (f *messagingFixture) messageRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&n).Error)
	return n
}

func isNewMessage(f gateway.Frame) bool { return f.Type == gateway.FrameNewMessage }

func TestSendAdminMessage_SucceedsWhenEmailFails(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mockSender)
	}{
		{"email error", func(m *mockSender) {
			m.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
		}},
		{"email panic", func(m *mockSender) {
			m.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("smtp exploded") }).Return(nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newMessagingFixture(t, defaultLimits)
			f.seedRequest(t, 42, model.RequestStatusReviewing)
			tt.setup(f.mail)
			f.unread.On("Increment", mock.Anything, UnreadRoleEmployer, uint(42)).Return(int64(1), nil).Once()
			f.events.On("Publish", mock.Anything, "employer_42", mock.MatchedBy(isNewMessage)).Return(nil).Once()

			msg, err := f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 42, AdminID: "1", Content: "Hello"})
			require.NoError(t, err)

			assert.NotZero(t, msg.ID)
			assert.True(t, msg.FromAdmin)
			assert.Equal(t, "hr@acme.test", msg.EmployerEmail)
			assert.Equal(t, model.MessageTypeText, msg.MessageType)
			assert.EqualValues(t, 1, f.messageRows(t))
			f.unread.AssertNumberOfCalls(t, "Increment", 1)
			f.events.AssertNumberOfCalls(t, "Publish", 1)
			f.mail.AssertNumberOfCalls(t, "Send", 1)

			cached, err := f.cache.GetMessage(ctx, msg.ID)
			require.NoError(t, err)
			assert.Equal(t, "Hello", cached.Content)
		})
	}
}

func TestSendAdminMessage_ClosedRequestRejectedBeforeSideEffects(t *testing.T) {
	for _, status := range []string{model.RequestStatusApproved, model.RequestStatusCancelled, model.RequestStatusCompleted} {
		t.Run(status, func(t *testing.T) {
			f := newMessagingFixture(t, defaultLimits)
			f.seedRequest(t, 42, status)

			_, err := f.svc.SendAdminMessage(context.Background(), AdminMessageInput{RequestID: 42, AdminID: "1", Content: "Hello"})
			require.ErrorIs(t, err, ErrConversationClosed)

			assert.EqualValues(t, 0, f.messageRows(t))
			f.unread.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
			f.events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
			f.mail.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestSendAdminMessage_Validation(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, MessagingLimits{Admin: Limit{Limit: 1, Window: time.Minute}})
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.unread.On("Increment", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 42, AdminID: "1", Content: "  "})
	assert.ErrorIs(t, err, ErrContentRequired)

	_, err = f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 42, AdminID: "1", Content: "x", MessageType: "video"})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	_, err = f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 404, AdminID: "1", Content: "x"})
	assert.ErrorIs(t, err, ErrRequestNotFound)

	// 上一次调用已消耗唯一额度
	_, err = f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 404, AdminID: "1", Content: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendAdminMessage_FileAttachment(t *testing.T) {
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusPending)
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.unread.On("Increment", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	msg, err := f.svc.SendAdminMessage(context.Background(), AdminMessageInput{
		RequestID:   42,
		AdminID:     "1",
		Content:     "see attached",
		MessageType: model.MessageTypeFile,
		Attachment:  &Attachment{URL: "uploads/messages/message_x.pdf", Name: "offer.pdf"},
	})
	require.NoError(t, err)
	require.NotNil(t, msg.AttachmentName)
	assert.Equal(t, "offer.pdf", *msg.AttachmentName)
}

func TestSendEmployerReply_UploadRunsOnlyAfterChecks(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, MessagingLimits{Employer: Limit{Limit: 3, Window: time.Minute}})
	f.seedRequest(t, 42, model.RequestStatusReviewing)
	f.seedRequest(t, 43, model.RequestStatusApproved)

	uploads := 0
	upload := func(context.Context) (*Attachment, error) {
		uploads++
		return &Attachment{URL: "uploads/messages/message_y.pdf", Name: "cv.pdf"}, nil
	}
	in := func(id uint, email string) EmployerReplyInput {
		return EmployerReplyInput{RequestID: id, Email: email, Content: "cv", MessageType: model.MessageTypeFile, Upload: upload}
	}

	_, err := f.svc.SendEmployerReply(ctx, in(42, "intruder@evil.test"))
	require.ErrorIs(t, err, ErrRequestNotFound)
	_, err = f.svc.SendEmployerReply(ctx, in(43, "hr@acme.test"))
	require.ErrorIs(t, err, ErrConversationClosed)
	_, err = f.svc.SendEmployerReply(ctx, in(999, "hr@acme.test"))
	require.ErrorIs(t, err, ErrRequestNotFound)
	_, err = f.svc.SendEmployerReply(ctx, in(999, "hr@acme.test"))
	require.ErrorIs(t, err, ErrRequestNotFound)
	_, err = f.svc.SendEmployerReply(ctx, in(42, "hr@acme.test"))
	require.ErrorIs(t, err, ErrRateLimited)

	assert.Zero(t, uploads)
	assert.EqualValues(t, 0, f.messageRows(t))
}

func TestSendAdminMessage_UploadFailureAborts(t *testing.T) {
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusPending)

	_, err := f.svc.SendAdminMessage(context.Background(), AdminMessageInput{
		RequestID:   42,
		AdminID:     "1",
		Content:     "see attached",
		MessageType: model.MessageTypeFile,
		Upload:      func(context.Context) (*Attachment, error) { return nil, errors.New("disk full") },
	})
	require.Error(t, err)
	assert.EqualValues(t, 0, f.messageRows(t))
	f.events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendEmployerReply(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusReviewing)

	_, err := f.svc.SendEmployerReply(ctx, EmployerReplyInput{RequestID: 42, Email: "other@acme.test", Content: "hi"})
	require.ErrorIs(t, err, ErrRequestNotFound)

	_, err = f.svc.SendEmployerReply(ctx, EmployerReplyInput{RequestID: 42, Content: "hi"})
	require.ErrorIs(t, err, ErrEmailRequired)

	f.mail.On("Send", mock.Anything, mock.MatchedBy(func(m mailer.Message) bool {
		return len(m.To) == 1 && m.To[0] == "admin@portal.test"
	})).Return(nil).Once()
	f.unread.On("Increment", mock.Anything, UnreadRoleAdmin, uint(42)).Return(int64(1), nil).Once()
	f.events.On("Publish", mock.Anything, "admin_42", mock.MatchedBy(isNewMessage)).Return(nil).Once()

	msg, err := f.svc.SendEmployerReply(ctx, EmployerReplyInput{RequestID: 42, Email: "HR@acme.test", Content: "thanks"})
	require.NoError(t, err)
	assert.False(t, msg.FromAdmin)
	f.mail.AssertExpectations(t)
	f.unread.AssertExpectations(t)
	f.events.AssertExpectations(t)
	assert.Equal(t, []string{model.RoleAdmin}, f.pusher.dashboard)
}

func TestSendEmployerReply_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, MessagingLimits{Employer: Limit{Limit: 2, Window: time.Minute}})
	f.seedRequest(t, 42, model.RequestStatusReviewing)
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.unread.On("Increment", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.SendEmployerReply(ctx, EmployerReplyInput{RequestID: 42, Email: "hr@acme.test", Content: "hi"})
		require.NoError(t, err)
	}
	_, err := f.svc.SendEmployerReply(ctx, EmployerReplyInput{RequestID: 42, Email: "hr@acme.test", Content: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 2, f.messageRows(t))
}

func TestGetConversation_CacheAsideAndInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusReviewing)
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.unread.On("Increment", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	owner := Viewer{Email: "hr@acme.test"}

	_, err := f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 42, AdminID: "1", Content: "first"})
	require.NoError(t, err)

	conv, err := f.svc.GetConversation(ctx, 42, owner)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Acme HR", conv.EmployerName)

	// 绕过服务直接写库：缓存仍返回旧会话
	require.NoError(t, f.messages.Create(ctx, &model.Message{EmployerRequestID: 42, EmployerEmail: "hr@acme.test", Content: "direct", MessageType: model.MessageTypeText}))
	conv, err = f.svc.GetConversation(ctx, 42, owner)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)

	// 通过服务写入会使会话缓存失效
	_, err = f.svc.SendAdminMessage(ctx, AdminMessageInput{RequestID: 42, AdminID: "1", Content: "third"})
	require.NoError(t, err)
	conv, err = f.svc.GetConversation(ctx, 42, owner)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "third", conv.Messages[2].Content)
}

func TestGetConversation_Access(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusReviewing)
	f.unread.On("MarkAsRead", mock.Anything, mock.Anything, uint(42)).Return(nil)
	f.unread.On("Count", mock.Anything, mock.Anything, uint(42)).Return(int64(0), nil)

	_, err := f.svc.GetConversation(ctx, 42, Viewer{Email: "intruder@test"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.GetConversation(ctx, 42, Viewer{Role: model.RoleEmployerGuest, RequestID: 7})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.GetConversation(ctx, 404, Viewer{Role: model.RoleAdmin})
	assert.ErrorIs(t, err, ErrRequestNotFound)

	conv, err := f.svc.GetConversation(ctx, 42, Viewer{Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.NotNil(t, conv.Messages)
	f.unread.AssertCalled(t, "MarkAsRead", mock.Anything, UnreadRoleAdmin, uint(42))

	_, err = f.svc.GetConversation(ctx, 42, Viewer{Role: model.RoleEmployerGuest, RequestID: 42})
	require.NoError(t, err)
	f.unread.AssertCalled(t, "MarkAsRead", mock.Anything, UnreadRoleEmployer, uint(42))
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 42, model.RequestStatusReviewing)
	m := &model.Message{EmployerRequestID: 42, EmployerEmail: "hr@acme.test", Content: "x", MessageType: model.MessageTypeText}
	require.NoError(t, f.messages.Create(ctx, m))
	f.unread.On("MarkAsRead", mock.Anything, UnreadRoleAdmin, uint(42)).Return(nil).Once()

	n, err := f.svc.MarkRead(ctx, 42, model.RoleAdmin, []uint{m.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	f.unread.AssertExpectations(t)

	msgs, err := f.messages.ListByRequest(ctx, 42)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)
	assert.NotNil(t, msgs[0].ReadAt)

	f.unread.On("Count", mock.Anything, UnreadRoleEmployer, uint(42)).Return(int64(3), nil).Once()
	assert.EqualValues(t, 3, f.svc.UnreadCount(ctx, 42, model.RoleEmployerGuest))

	f.unread.On("Count", mock.Anything, UnreadRoleAdmin, uint(42)).Return(int64(0), errors.New("redis down")).Once()
	assert.EqualValues(t, 0, f.svc.UnreadCount(ctx, 42, model.RoleAdmin))
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()
	f := newMessagingFixture(t, defaultLimits)
	f.seedRequest(t, 1, model.RequestStatusPending)
	f.seedRequest(t, 2, model.RequestStatusReviewing)
	for _, c := range []string{"a", "b"} {
		require.NoError(t, f.messages.Create(ctx, &model.Message{EmployerRequestID: 2, EmployerEmail: "hr@acme.test", Content: c, MessageType: model.MessageTypeText}))
	}
	f.unread.On("Count", mock.Anything, UnreadRoleAdmin, uint(1)).Return(int64(0), nil)
	f.unread.On("Count", mock.Anything, UnreadRoleAdmin, uint(2)).Return(int64(2), nil)

	page, err := f.svc.ListConversations(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Requests, 2)
	assert.EqualValues(t, 2, page.Pagination.Total)
	assert.EqualValues(t, 1, page.Pagination.TotalPages)

	byID := map[uint]ConversationSummary{}
	for _, s := range page.Requests {
		byID[s.ID] = s
	}
	assert.Nil(t, byID[1].LatestMessage)
	assert.EqualValues(t, 2, byID[2].MessageCount)
	assert.EqualValues(t, 2, byID[2].UnreadCount)
	require.NotNil(t, byID[2].LatestMessage)
	assert.Equal(t, "b", byID[2].LatestMessage.Content)
}
