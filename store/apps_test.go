package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterApp(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	reg, err := s.RegisterApp(ctx, "Test App", "example.com", "did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	require.NoError(t, err)

	assert.True(strings.HasPrefix(reg.App.AppID, "app_"))
	assert.True(strings.HasPrefix(reg.App.APIKey, "osc_"))
	assert.Equal("active", reg.App.Status)
	assert.NotEmpty(reg.APISecret)

	// only the hash is persisted
	assert.NotContains(reg.App.APISecretHash, reg.APISecret)
	assert.True(reg.App.CheckAppSecret(reg.APISecret))
	assert.False(reg.App.CheckAppSecret("wrong-secret"))
}

func TestRegisterAppDuplicateDomain(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	first, err := s.RegisterApp(ctx, "First", "example.com", "did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	require.NoError(t, err)
	assert.NotNil(first)

	_, err = s.RegisterApp(ctx, "Second", "example.com", "did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	assert.ErrorIs(err, ErrDuplicateDomain)
}

func TestGetAppByAPIKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	reg, err := s.RegisterApp(ctx, "Test App", "example.com", "did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	require.NoError(t, err)

	app, err := s.GetAppByAPIKey(ctx, reg.App.APIKey)
	require.NoError(t, err)
	assert.Equal(reg.App.AppID, app.AppID)
	assert.Equal("example.com", app.Domain)

	_, err = s.GetAppByAPIKey(ctx, "osc_nonexistent")
	assert.ErrorIs(err, ErrNotFound)

	// inactive apps do not authenticate
	require.NoError(t, s.db.Model(&App{}).Where("app_id = ?", reg.App.AppID).Update("status", "suspended").Error)
	_, err = s.GetAppByAPIKey(ctx, reg.App.APIKey)
	assert.ErrorIs(err, ErrNotFound)
}
