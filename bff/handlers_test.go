package bff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectivesocial/open-social/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(Config{
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bind:             ":8080",
		DatabaseURL:      "sqlite://:memory:",
		DBMaxConnections: 1,
		CookieSecret:     "test-secret-0123456789",
	})
	require.NoError(t, err)
	return srv
}

func doJSON(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		blob, _ := json.Marshal(body)
		reader = bytes.NewReader(blob)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) GenericError {
	t.Helper()
	var ge GenericError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ge))
	return ge
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doJSON(srv, "GET", "/health", nil)
	assert.Equal(http.StatusOK, rec.Code)

	var body healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal("ok", body.Status)
	assert.Equal("opensocial-api", body.Service)
}

func TestLoginRequiresInput(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	for _, body := range []any{nil, map[string]string{}, map[string]string{"input": ""}, map[string]string{"input": "   "}} {
		rec := doJSON(srv, "POST", "/login", body)
		assert.Equal(http.StatusBadRequest, rec.Code)
		assert.Equal("InvalidInput", decodeError(t, rec).Error)
	}
}

func TestLoginNoCaching(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(srv, "POST", "/login", map[string]string{"input": ""})
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCallbackAlwaysRedirects(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	// garbage params: the exchange fails, but the browser still gets sent home
	rec := doJSON(srv, "GET", "/oauth/callback?state=bogus&code=bogus", nil)
	assert.Equal(http.StatusFound, rec.Code)
	assert.Equal(devFrontendURL, rec.Header().Get("Location"))
	assert.Equal("no-store", rec.Header().Get("Cache-Control"))

	// no params at all: same deal
	rec = doJSON(srv, "GET", "/oauth/callback", nil)
	assert.Equal(http.StatusFound, rec.Code)
	assert.Equal(devFrontendURL, rec.Header().Get("Location"))
}

func TestLogoutIdempotent(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	for i := 0; i < 2; i++ {
		rec := doJSON(srv, "POST", "/logout", nil)
		assert.Equal(http.StatusOK, rec.Code, "logout call %d", i+1)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(body["success"])
	}
}

func TestCurrentUserRequiresSession(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	for _, path := range []string{"/users/me", "/users/me/memberships"} {
		rec := doJSON(srv, "GET", path, nil)
		assert.Equal(http.StatusUnauthorized, rec.Code, path)
		assert.Equal("AuthenticationRequired", decodeError(t, rec).Error)
	}
}

// A cookie naming an identity with no stored credential must be destroyed on
// the failed restore, so the client stops presenting it.
func TestRestoreFailureSelfHeal(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	cookie := issueCookie(t, srv.sessions, testDID)

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(http.StatusUnauthorized, rec.Code)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(sessionCookieName, cleared[0].Name)
	assert.True(cleared[0].MaxAge < 0)
}

// A stored credential that cannot be rehydrated (dead refresh material) must
// be deleted on the failed restore, not left to accumulate.
func TestRestoreFailureDeletesDeadCredential(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)
	ctx := context.Background()

	// a row with no key or token material can never resume
	require.NoError(t, srv.store.SaveSession(ctx, oauth.ClientSessionData{
		AccountDID: testDID,
		SessionID:  "stale",
	}))

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.AddCookie(issueCookie(t, srv.sessions, testDID))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(http.StatusUnauthorized, rec.Code)

	_, err := srv.store.GetSession(ctx, testDID, "")
	assert.ErrorIs(err, store.ErrNotFound)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.True(cleared[0].MaxAge < 0)
}

func TestErrorHandlerCodes(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doJSON(srv, "GET", "/no/such/route", nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Equal("NotFound", decodeError(t, rec).Error)

	rec = doJSON(srv, "DELETE", "/health", nil)
	assert.Equal(http.StatusMethodNotAllowed, rec.Code)
	assert.Equal("MethodNotAllowed", decodeError(t, rec).Error)
}

func TestRegisterApp(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doJSON(srv, "POST", "/api/v1/apps/register", map[string]string{
		"name":        "Test App",
		"domain":      "example.com",
		"creator_did": "did:plc:ewvi7nxzyoun6zhxrhs64oiz",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body registerAppResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(body.App.AppID)
	assert.NotEmpty(body.App.APIKey)
	assert.NotEmpty(body.APISecret)
	assert.Equal("example.com", body.App.Domain)

	// second registration against the same domain conflicts
	rec = doJSON(srv, "POST", "/api/v1/apps/register", map[string]string{
		"name":        "Another App",
		"domain":      "example.com",
		"creator_did": "did:plc:ewvi7nxzyoun6zhxrhs64oiz",
	})
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Equal("Conflict", decodeError(t, rec).Error)

	// the app can authenticate with its key, and the secret is never returned again
	req := httptest.NewRequest("GET", "/api/v1/apps/me", nil)
	req.Header.Set(apiKeyHeader, body.App.APIKey)
	appRec := httptest.NewRecorder()
	srv.ServeHTTP(appRec, req)
	assert.Equal(http.StatusOK, appRec.Code)

	var me appView
	require.NoError(t, json.Unmarshal(appRec.Body.Bytes(), &me))
	assert.Equal(body.App.AppID, me.AppID)
	assert.Empty(me.APIKey)
	assert.NotContains(appRec.Body.String(), body.APISecret)
}

func TestRegisterAppValidation(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	missing := []map[string]string{
		{"domain": "example.com", "creator_did": "did:plc:ewvi7nxzyoun6zhxrhs64oiz"},
		{"name": "Test", "creator_did": "did:plc:ewvi7nxzyoun6zhxrhs64oiz"},
		{"name": "Test", "domain": "example.com"},
	}
	for i, body := range missing {
		rec := doJSON(srv, "POST", "/api/v1/apps/register", body)
		assert.Equal(http.StatusBadRequest, rec.Code, "case %d", i)
		assert.Equal("InvalidInput", decodeError(t, rec).Error)
	}

	rec := doJSON(srv, "POST", "/api/v1/apps/register", map[string]string{
		"name":        "Test",
		"domain":      "example.com",
		"creator_did": "not-a-did",
	})
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestAppAuthRequired(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doJSON(srv, "GET", "/api/v1/apps/me", nil)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/apps/me", nil)
	req.Header.Set(apiKeyHeader, "osc_nonexistent")
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req)
	assert.Equal(http.StatusUnauthorized, rec2.Code)
}

func TestClientMetadata(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t)

	rec := doJSON(srv, "GET", "/oauth-client-metadata.json", nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(fmt.Sprintf("max-age=%d, public", srv.cacheMaxAge), rec.Header().Get("Cache-Control"))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.NotEmpty(meta["client_id"])
}
