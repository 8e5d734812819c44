package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/job-portal/internal/cache"
)

const settingsKey = "system_settings"

var ErrInvalidSettings = errors.New("invalid settings")

type SystemSettings struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	Maintenance         bool   `json:"maintenance"`
	RegistrationEnabled bool   `json:"registrationEnabled"`
	EmailNotifications  bool   `json:"emailNotifications"`
	MaxFileSize         int64  `json:"maxFileSize" validate:"gte=0,lte=52428800"`
	MaxUploadsPerUser   int    `json:"maxUploadsPerUser" validate:"gte=0,lte=20"`
}

type EmailSettings struct {
	SMTPHost  string `json:"smtpHost"`
	SMTPPort  int    `json:"smtpPort" validate:"gte=0,lte=65535"`
	FromEmail string `json:"fromEmail"`
	ReplyTo   string `json:"replyTo"`
}

type SecuritySettings struct {
	SessionTimeout           int  `json:"sessionTimeout" validate:"gte=0"`
	MaxLoginAttempts         int  `json:"maxLoginAttempts" validate:"gte=0,lte=10"`
	PasswordMinLength        int  `json:"passwordMinLength" validate:"gte=4"`
	RequireEmailVerification bool `json:"requireEmailVerification"`
}

type FeatureSettings struct {
	FileUploads       bool `json:"fileUploads"`
	RealTimeMessaging bool `json:"realTimeMessaging"`
	SearchSuggestions bool `json:"searchSuggestions"`
	Analytics         bool `json:"analytics"`
}

// Settings 系统设置，缓存在 session store 中
type Settings struct {
	System   SystemSettings   `json:"system"`
	Email    EmailSettings    `json:"email"`
	Security SecuritySettings `json:"security"`
	Features FeatureSettings  `json:"features"`
}

type SettingsService interface {
	Get(ctx context.Context) (*Settings, error)
	// Update 把 JSON 补丁按字段合并到当前设置
	Update(ctx context.Context, patch json.RawMessage) (*Settings, error)
}

type settingsService struct {
	sessions SessionStore
	defaults Settings
	validate *validator.Validate
}

func NewSettingsService(sessions SessionStore, defaults Settings) SettingsService {
	return &settingsService{sessions: sessions, defaults: defaults, validate: validator.New()}
}

func (s *settingsService) Get(ctx context.Context) (*Settings, error) {
	cur := s.defaults
	if err := s.sessions.Get(ctx, settingsKey, &cur); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			def := s.defaults
			return &def, nil
		}
		return nil, err
	}
	return &cur, nil
}

func (s *settingsService) Update(ctx context.Context, patch json.RawMessage) (*Settings, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	// 反序列化到已有值上：只覆盖补丁中出现的字段
	if err := json.Unmarshal(patch, cur); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.validate.Struct(cur); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.sessions.Set(ctx, settingsKey, cur, 0); err != nil {
		return nil, err
	}
	return cur, nil
}
