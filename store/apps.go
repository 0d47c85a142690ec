package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrDuplicateDomain indicates an app registration against a domain (or, far
// less likely, a generated key) that already exists.
var ErrDuplicateDomain = errors.New("app with this domain already exists")

// AppRegistration is the result of a successful registration. APISecret is
// the only copy of the plaintext secret that will ever exist; only its bcrypt
// hash is persisted.
type AppRegistration struct {
	App       *App
	APISecret string
}

func randomHex(nbytes int) string {
	buf := make([]byte, nbytes)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// RegisterApp creates a new app record with freshly minted credentials.
func (s *Store) RegisterApp(ctx context.Context, name, domain, creatorDID string) (*AppRegistration, error) {
	secret := randomHex(32)
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing app secret: %w", err)
	}

	app := App{
		AppID:         "app_" + randomHex(8),
		Name:          name,
		Domain:        domain,
		CreatorDID:    creatorDID,
		APIKey:        "osc_" + randomHex(32),
		APISecretHash: string(secretHash),
		Status:        "active",
	}
	if err := s.db.WithContext(ctx).Create(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateDomain
		}
		return nil, fmt.Errorf("persisting app record: %w", err)
	}

	return &AppRegistration{App: &app, APISecret: secret}, nil
}

// GetAppByAPIKey returns the active app for an API key, or ErrNotFound.
func (s *Store) GetAppByAPIKey(ctx context.Context, apiKey string) (*App, error) {
	var app App
	err := s.db.WithContext(ctx).First(&app, "api_key = ? AND status = ?", apiKey, "active").Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: app for API key", ErrNotFound)
		}
		return nil, fmt.Errorf("reading app record: %w", err)
	}
	return &app, nil
}

// CheckAppSecret verifies a plaintext API secret against the stored hash.
func (a *App) CheckAppSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.APISecretHash), []byte(secret)) == nil
}
