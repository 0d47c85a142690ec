package store

import (
	"context"
	"errors"
	"testing"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)

	s := NewStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestAuthSessionRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	did := syntax.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz")

	_, err := s.GetSession(ctx, did, "")
	assert.ErrorIs(err, ErrNotFound)

	sess := oauth.ClientSessionData{
		AccountDID: did,
		SessionID:  "sess-one",
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	out, err := s.GetSession(ctx, did, "")
	require.NoError(t, err)
	assert.Equal(did, out.AccountDID)
	assert.Equal("sess-one", out.SessionID)

	// the sessionID argument is ignored; lookup is by DID alone
	out, err = s.GetSession(ctx, did, "some-other-session")
	require.NoError(t, err)
	assert.Equal("sess-one", out.SessionID)

	require.NoError(t, s.DeleteSession(ctx, did, ""))
	_, err = s.GetSession(ctx, did, "")
	assert.ErrorIs(err, ErrNotFound)

	// deleting an already-deleted session is not an error
	assert.NoError(s.DeleteSession(ctx, did, ""))
}

func TestAuthSessionUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	did := syntax.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz")

	require.NoError(t, s.SaveSession(ctx, oauth.ClientSessionData{AccountDID: did, SessionID: "first"}))
	require.NoError(t, s.SaveSession(ctx, oauth.ClientSessionData{AccountDID: did, SessionID: "second"}))

	out, err := s.GetSession(ctx, did, "")
	require.NoError(t, err)
	assert.Equal("second", out.SessionID)

	// at most one established-session row per identity
	var count int64
	require.NoError(t, s.db.Model(&AuthSession{}).Count(&count).Error)
	assert.Equal(int64(1), count)
}

func TestAuthRequestInfoLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	_, err := s.GetAuthRequestInfo(ctx, "nonexistent")
	assert.ErrorIs(err, ErrNotFound)

	info := oauth.AuthRequestData{State: "state-token-123"}
	require.NoError(t, s.SaveAuthRequestInfo(ctx, info))

	out, err := s.GetAuthRequestInfo(ctx, "state-token-123")
	require.NoError(t, err)
	assert.Equal("state-token-123", out.State)

	require.NoError(t, s.DeleteAuthRequestInfo(ctx, "state-token-123"))
	_, err = s.GetAuthRequestInfo(ctx, "state-token-123")
	assert.ErrorIs(err, ErrNotFound)
}

func TestCorruptSessionPayload(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	did := syntax.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz")
	row := AuthSession{Key: did.String(), Session: "{not json"}
	require.NoError(t, s.db.Create(&row).Error)

	_, err := s.GetSession(ctx, did, "")
	assert.Error(err)
	assert.False(errors.Is(err, ErrNotFound))
}
