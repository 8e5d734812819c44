package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/job-portal/internal/cache"
)

func defaultSettings() Settings {
	return Settings{
		System:   SystemSettings{Name: "Job Portal", Version: "1.0.0", RegistrationEnabled: true, MaxFileSize: 10 << 20, MaxUploadsPerUser: 5},
		Security: SecuritySettings{SessionTimeout: 86400, MaxLoginAttempts: 5, PasswordMinLength: 6},
		Features: FeatureSettings{FileUploads: true, RealTimeMessaging: true},
	}
}

func TestSettings_GetUpdate(t *testing.T) {
	ctx := context.Background()
	_, store := setupStore(t)
	svc := NewSettingsService(cache.NewSessionStore(store, time.Hour), defaultSettings())

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSettings(), *got)

	updated, err := svc.Update(ctx, json.RawMessage(`{"system":{"maintenance":true},"security":{"maxLoginAttempts":3}}`))
	require.NoError(t, err)
	assert.True(t, updated.System.Maintenance)
	assert.Equal(t, "Job Portal", updated.System.Name)
	assert.Equal(t, 3, updated.Security.MaxLoginAttempts)
	assert.Equal(t, 6, updated.Security.PasswordMinLength)

	got, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, *updated, *got)
}

func TestSettings_RejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	_, store := setupStore(t)
	svc := NewSettingsService(cache.NewSessionStore(store, time.Hour), defaultSettings())

	for _, patch := range []string{
		`{"system":{"maxUploadsPerUser":50}}`,
		`{"system":{"maxFileSize":104857600}}`,
		`{"security":{"passwordMinLength":2}}`,
		`{"security":{"maxLoginAttempts":11}}`,
		`not json`,
	} {
		_, err := svc.Update(ctx, json.RawMessage(patch))
		assert.ErrorIs(t, err, ErrInvalidSettings, patch)
	}

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSettings(), *got)
}
