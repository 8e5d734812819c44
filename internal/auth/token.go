package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/d60-Lab/job-portal/internal/model"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("invalid token")
)

// 令牌类型，写入 typ 声明；校验时按用途限定
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypeGuest   = "guest"
)

// Claims 令牌载荷：至少包含用户 ID 与角色
type Claims struct {
	Type      string `json:"typ"`
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	RequestID uint   `json:"requestId,omitempty"` // 访客令牌绑定的雇主请求
	jwt.RegisteredClaims
}

// Manager 签发与校验 HMAC 令牌
type Manager struct {
	secret        []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	guestTTL      time.Duration
	issuer        string
	now           func() time.Time
}

type Options struct {
	Secret        string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	GuestTTL      time.Duration
	Issuer        string
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		secret:        []byte(opts.Secret),
		refreshSecret: []byte(opts.RefreshSecret),
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		guestTTL:      opts.GuestTTL,
		issuer:        opts.Issuer,
		now:           time.Now,
	}
	if len(m.refreshSecret) == 0 {
		m.refreshSecret = m.secret
	}
	if m.accessTTL <= 0 {
		m.accessTTL = time.Hour
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 7 * 24 * time.Hour
	}
	if m.guestTTL <= 0 {
		m.guestTTL = 2 * time.Hour
	}
	if m.issuer == "" {
		m.issuer = "job-portal"
	}
	return m
}

func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess 访问令牌（HTTP 与 WebSocket 共用）
func (m *Manager) IssueAccess(userID, email, role string) (string, error) {
	return m.sign(m.secret, Claims{Type: TypeAccess, UserID: userID, Email: email, Role: role}, m.accessTTL)
}

func (m *Manager) IssueRefresh(userID, email, role string) (string, error) {
	return m.sign(m.refreshSecret, Claims{Type: TypeRefresh, UserID: userID, Email: email, Role: role}, m.refreshTTL)
}

// IssueGuest 雇主访客令牌，只绑定一个请求
func (m *Manager) IssueGuest(requestID uint, email string) (string, error) {
	c := Claims{
		Type:      TypeGuest,
		UserID:    GuestUserID(requestID, email),
		Email:     email,
		Role:      model.RoleEmployerGuest,
		RequestID: requestID,
	}
	return m.sign(m.secret, c, m.guestTTL)
}

// GuestUserID 访客身份：同一请求同一邮箱始终映射到同一 ID
func GuestUserID(requestID uint, email string) string {
	return fmt.Sprintf("employer:%d:%s", requestID, strings.ToLower(email))
}

// Verify 接受访问令牌与访客令牌，刷新令牌一律拒绝
func (m *Manager) Verify(token string) (*Claims, error) {
	return m.verify(m.secret, token, TypeAccess, TypeGuest)
}

func (m *Manager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(m.refreshSecret, token, TypeRefresh)
}

// WellFormed 只检查三段式结构，不验签
func WellFormed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// HashToken 存储令牌时只保存摘要
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) sign(secret []byte, c Claims, ttl time.Duration) (string, error) {
	now := m.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

func (m *Manager) verify(secret []byte, token string, types ...string) (*Claims, error) {
	if !WellFormed(token) {
		return nil, ErrMalformedToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// 只接受 HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	for _, typ := range types {
		if claims.Type == typ {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
}
