package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates a missing row in any of the store's tables.
var ErrNotFound = errors.New("record not found")

// Store implements [oauth.ClientAuthStore] on top of the relational store.
//
// Sessions are keyed by account DID alone: the service issues at most one
// established session per identity, so the `sessionID` parameters are ignored
// (which the interface explicitly permits). A login from a second browser
// clobbers the previous session row.
var _ oauth.ClientAuthStore = (*Store)(nil)

func (s *Store) GetSession(ctx context.Context, did syntax.DID, sessionID string) (*oauth.ClientSessionData, error) {
	var row AuthSession
	if err := s.db.WithContext(ctx).First(&row, "key = ?", did.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: auth session for %s", ErrNotFound, did)
		}
		return nil, fmt.Errorf("reading auth session: %w", err)
	}

	var sess oauth.ClientSessionData
	if err := json.Unmarshal([]byte(row.Session), &sess); err != nil {
		return nil, fmt.Errorf("corrupt auth session payload for %s: %w", did, err)
	}
	return &sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess oauth.ClientSessionData) error {
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("serializing auth session: %w", err)
	}
	row := AuthSession{
		Key:     sess.AccountDID.String(),
		Session: string(blob),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"session"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persisting auth session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, did syntax.DID, sessionID string) error {
	if err := s.db.WithContext(ctx).Delete(&AuthSession{}, "key = ?", did.String()).Error; err != nil {
		return fmt.Errorf("deleting auth session: %w", err)
	}
	return nil
}

func (s *Store) GetAuthRequestInfo(ctx context.Context, state string) (*oauth.AuthRequestData, error) {
	var row AuthState
	if err := s.db.WithContext(ctx).First(&row, "key = ?", state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: auth request info", ErrNotFound)
		}
		return nil, fmt.Errorf("reading auth request info: %w", err)
	}

	var info oauth.AuthRequestData
	if err := json.Unmarshal([]byte(row.State), &info); err != nil {
		return nil, fmt.Errorf("corrupt auth request payload: %w", err)
	}
	return &info, nil
}

func (s *Store) SaveAuthRequestInfo(ctx context.Context, info oauth.AuthRequestData) error {
	blob, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("serializing auth request info: %w", err)
	}
	row := AuthState{
		Key:   info.State,
		State: string(blob),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persisting auth request info: %w", err)
	}
	return nil
}

func (s *Store) DeleteAuthRequestInfo(ctx context.Context, state string) error {
	if err := s.db.WithContext(ctx).Delete(&AuthState{}, "key = ?", state).Error; err != nil {
		return fmt.Errorf("deleting auth request info: %w", err)
	}
	return nil
}
