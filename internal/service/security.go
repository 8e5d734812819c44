package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/job-portal/internal/auth"
	"github.com/d60-Lab/job-portal/internal/cache"
	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/repository"
	"github.com/d60-Lab/job-portal/pkg/besteffort"
)

const (
	resetTokenTTL     = time.Hour
	minPasswordLength = 6
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrPasswordTooShort    = errors.New("password must be at least 6 characters")
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refreshRecord 只保存令牌摘要
type refreshRecord struct {
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

type resetRecord struct {
	UserID uint   `json:"userId"`
	Email  string `json:"email"`
}

func refreshKey(userID string) string { return "refresh_token_" + userID }
func resetKey(token string) string    { return "password_reset_" + auth.HashToken(token) }

type SecurityService interface {
	Login(ctx context.Context, email, password string) (*TokenPair, *model.User, error)
	IssueTokens(ctx context.Context, user *model.User) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	IssueGuestToken(ctx context.Context, requestID uint, email string) (string, error)
}

type SecurityLimits struct {
	PasswordReset Limit
	GuestToken    Limit
}

type SecurityDeps struct {
	Users    repository.UserRepository
	Requests repository.RequestRepository
	Tokens   *auth.Manager
	Sessions SessionStore
	Limiter  RateLimiter
	Composer MailComposer
	Mail     mailer.Sender
	Runner   *besteffort.Runner
	Limits   SecurityLimits
}

type securityService struct {
	SecurityDeps
}

func NewSecurityService(deps SecurityDeps) SecurityService {
	if deps.Runner == nil {
		deps.Runner = besteffort.New(nil, nil)
	}
	return &securityService{SecurityDeps: deps}
}

func (s *securityService) Login(ctx context.Context, email, password string) (*TokenPair, *model.User, error) {
	user, err := s.Users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.IssueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func (s *securityService) IssueTokens(ctx context.Context, user *model.User) (*TokenPair, error) {
	uid := strconv.FormatUint(uint64(user.ID), 10)
	access, err := s.Tokens.IssueAccess(uid, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Tokens.IssueRefresh(uid, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	rec := refreshRecord{TokenHash: auth.HashToken(refresh), CreatedAt: time.Now()}
	if err := s.Sessions.Set(ctx, refreshKey(uid), rec, s.Tokens.RefreshTTL()); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh 只换发访问令牌，刷新令牌保持不变
func (s *securityService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	var rec refreshRecord
	if err := s.Sessions.Get(ctx, refreshKey(claims.UserID), &rec); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if rec.TokenHash != auth.HashToken(refreshToken) {
		return nil, ErrInvalidRefreshToken
	}
	access, err := s.Tokens.IssueAccess(claims.UserID, claims.Email, claims.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

func (s *securityService) Logout(ctx context.Context, userID string) error {
	return s.Sessions.Delete(ctx, refreshKey(userID))
}

// RequestPasswordReset 无论邮箱是否存在都返回 nil，只有限流会报错
func (s *securityService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if !s.Limiter.Allow(ctx, "password_reset_"+strings.ToLower(email), s.Limits.PasswordReset.Limit, s.Limits.PasswordReset.Window) {
		return ErrRateLimited
	}
	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := s.Sessions.Set(ctx, resetKey(token), resetRecord{UserID: user.ID, Email: user.Email}, resetTokenTTL); err != nil {
		return err
	}
	s.Runner.Do(ctx, "email.password_reset", func(ctx context.Context) error {
		name := user.FirstName
		if name == "" {
			name = "User"
		}
		m, err := s.Composer.PasswordReset(user.Email, name, token)
		if err != nil {
			return err
		}
		return s.Mail.Send(ctx, m)
	})
	return nil
}

func (s *securityService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if token == "" {
		return ErrInvalidResetToken
	}
	var rec resetRecord
	if err := s.Sessions.Get(ctx, resetKey(token), &rec); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return ErrInvalidResetToken
		}
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.Users.UpdatePassword(ctx, rec.UserID, string(hash)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	s.Runner.Do(ctx, "session.delete_reset_token", func(ctx context.Context) error {
		return s.Sessions.Delete(ctx, resetKey(token))
	})
	s.Runner.Do(ctx, "session.revoke_refresh_token", func(ctx context.Context) error {
		return s.Sessions.Delete(ctx, refreshKey(strconv.FormatUint(uint64(rec.UserID), 10)))
	})
	s.Runner.Do(ctx, "email.password_reset_confirmation", func(ctx context.Context) error {
		m, err := s.Composer.PasswordResetConfirmation(rec.Email)
		if err != nil {
			return err
		}
		return s.Mail.Send(ctx, m)
	})
	return nil
}

// IssueGuestToken 雇主凭请求邮箱换取只读本请求的 socket 令牌
func (s *securityService) IssueGuestToken(ctx context.Context, requestID uint, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if !s.Limiter.Allow(ctx, "guest_token:"+strings.ToLower(email), s.Limits.GuestToken.Limit, s.Limits.GuestToken.Window) {
		return "", ErrRateLimited
	}
	req, err := s.Requests.Get(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrRequestNotFound
	}
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(req.Email, email) {
		return "", ErrRequestNotFound
	}
	return s.Tokens.IssueGuest(req.ID, req.Email)
}
