package bff

import (
	"net/http"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/gorilla/sessions"
)

const sessionCookieName = "sid"

// Session cookies are re-issued on every authenticated response, so the
// max-age models a background-refresh window, not a hard session timeout.
const (
	sessionMaxAgeProduction  = 600
	sessionMaxAgeDevelopment = 24 * 3600
)

// SessionStore encodes the browser session as a single encrypted, signed
// cookie. The cookie carries the account DID and nothing else: no tokens, no
// secrets. An absent, expired, or tampered cookie reads as "no identity",
// never as an error.
type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(secret []byte, production bool) *SessionStore {
	cs := sessions.NewCookieStore(secret)
	maxAge := sessionMaxAgeDevelopment
	if production {
		maxAge = sessionMaxAgeProduction
	}
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: cs}
}

// Read returns the authenticated DID, if any.
func (s *SessionStore) Read(r *http.Request) (syntax.DID, bool) {
	// a failed decode yields a fresh empty session; that is the point
	sess, _ := s.store.Get(r, sessionCookieName)
	raw, ok := sess.Values["did"].(string)
	if !ok || raw == "" {
		return "", false
	}
	did, err := syntax.ParseDID(raw)
	if err != nil {
		return "", false
	}
	return did, true
}

// Write (re-)issues the session cookie for the given identity.
func (s *SessionStore) Write(w http.ResponseWriter, r *http.Request, did syntax.DID) error {
	sess, _ := s.store.Get(r, sessionCookieName)
	sess.Values["did"] = did.String()
	return sess.Save(r, w)
}

// Destroy clears the cookie immediately.
func (s *SessionStore) Destroy(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, sessionCookieName)
	sess.Values = make(map[any]any)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
