package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/job-portal/internal/cache"
	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/pkg/besteffort"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func setupStore(t *testing.T) (*miniredis.Miniredis, *cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, cache.NewStore(rdb)
}

func quietRunner() *besteffort.Runner { return besteffort.New(zap.NewNop(), nil) }

type mockUnread struct{ mock.Mock }

func (m *mockUnread) Increment(ctx context.Context, role string, id uint) (int64, error) {
	args := m.Called(ctx, role, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUnread) Count(ctx context.Context, role string, id uint) (int64, error) {
	args := m.Called(ctx, role, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUnread) MarkAsRead(ctx context.Context, role string, id uint) error {
	return m.Called(ctx, role, id).Error(0)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) Publish(ctx context.Context, channel string, event any) error {
	return m.Called(ctx, channel, event).Error(0)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, msg mailer.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// fakePusher 记录推送调用
type fakePusher struct {
	mu        sync.Mutex
	dashboard []string
	requests  []uint
	statuses  []string
}

func (p *fakePusher) NotifyDashboardUpdate(role string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dashboard = append(p.dashboard, role)
	return 1
}

func (p *fakePusher) NotifyNewRequest(req *model.EmployerRequest) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req.ID)
	return 1
}

func (p *fakePusher) NotifyRequestStatusChange(requestID uint, status, role string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return 1
}

// fakeComposer 记录重置令牌，其余委托给真实模板
type fakeComposer struct {
	*mailer.Composer
	resetTokens []string
}

func newFakeComposer() *fakeComposer {
	return &fakeComposer{Composer: mailer.NewComposer("noreply@portal.test", "admin@portal.test", "https://portal.test")}
}

func (f *fakeComposer) PasswordReset(email, firstName, token string) (mailer.Message, error) {
	f.resetTokens = append(f.resetTokens, token)
	return f.Composer.PasswordReset(email, firstName, token)
}
