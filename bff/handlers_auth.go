package bff

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/labstack/echo/v4"
)

// GenericError is the JSON body for every failed request. Error is a stable
// code; Message carries detail and never includes internals beyond the
// underlying error text.
type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func strPtr(raw string) *string {
	return &raw
}

// GET /oauth-client-metadata.json
func (srv *Server) HandleClientMetadata(c echo.Context) error {
	meta := srv.oauth.Config.ClientMetadata()
	if srv.oauth.Config.IsConfidential() {
		meta.JWKSURI = strPtr(fmt.Sprintf("https://%s/.well-known/jwks.json", c.Request().Host))
	}
	meta.ClientName = strPtr("OpenSocial")
	meta.ClientURI = strPtr(fmt.Sprintf("https://%s", c.Request().Host))

	// internal consistency check
	if err := meta.Validate(srv.oauth.Config.ClientID); err != nil {
		srv.logger.Error("validating client metadata", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "invalid client metadata")
	}

	c.Response().Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, public", srv.cacheMaxAge))
	return c.JSON(http.StatusOK, meta)
}

// GET /.well-known/jwks.json
func (srv *Server) HandleJWKS(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, public", srv.cacheMaxAge))
	return c.JSON(http.StatusOK, srv.oauth.Config.PublicJWKS())
}

type loginRequest struct {
	// a handle, a DID, or a PDS service URL
	Input string `json:"input" form:"input"`
}

// POST /login
func (srv *Server) HandleLogin(c echo.Context) error {
	ctx := c.Request().Context()
	c.Response().Header().Set("Cache-Control", "no-store")

	var body loginRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidInput",
			Message: "could not parse request body",
		})
	}
	input := strings.TrimSpace(body.Input)
	if input == "" {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidInput",
			Message: "missing or empty field: input",
		})
	}

	loginsStarted.Inc()
	redirectURL, err := srv.oauth.StartAuthFlow(ctx, input)
	if err != nil {
		srv.logger.Warn("oauth authorize failed", "input", input, "err", err)
		loginFailures.Inc()
		// per contract: a JSON error body with the underlying message, not a redirect
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "AuthorizationFailed",
			Message: err.Error(),
		})
	}

	return c.Redirect(http.StatusFound, redirectURL)
}

// GET /oauth/callback
//
// The browser must never dead-end here: whatever happens inside the flow, the
// one guaranteed exit is a redirect back to the frontend. Failure surfaces
// only as the absence of a session afterward.
func (srv *Server) HandleOAuthCallback(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")

	if err := srv.completeCallback(c); err != nil {
		srv.logger.Error("oauth callback failed", "err", err)
		callbackFailures.Inc()
	} else {
		loginsCompleted.Inc()
	}

	return c.Redirect(http.StatusFound, srv.frontendURL)
}

func (srv *Server) completeCallback(c echo.Context) error {
	ctx := c.Request().Context()

	// a prior login may still hold a credential; discard it before exchanging
	// the new one (best-effort)
	if did, ok := srv.sessions.Read(c.Request()); ok {
		if err := srv.store.DeleteSession(ctx, did, ""); err != nil {
			srv.logger.Warn("failed to discard previous credential", "did", did, "err", err)
		}
	}

	sessData, err := srv.oauth.ProcessCallback(ctx, c.QueryParams())
	if err != nil {
		return fmt.Errorf("completing authorization: %w", err)
	}

	if err := srv.sessions.Write(c.Response(), c.Request(), sessData.AccountDID); err != nil {
		return fmt.Errorf("writing session cookie: %w", err)
	}

	srv.logger.Info("login successful", "did", sessData.AccountDID)
	return nil
}

// POST /logout
func (srv *Server) HandleLogout(c echo.Context) error {
	ctx := c.Request().Context()
	c.Response().Header().Set("Cache-Control", "no-store")

	// revoke the stored credential (best-effort; never blocks cookie destruction)
	if did, ok := srv.sessions.Read(c.Request()); ok {
		if err := srv.store.DeleteSession(ctx, did, ""); err != nil {
			srv.logger.Warn("failed to revoke credential", "did", did, "err", err)
		}
	}

	if err := srv.sessions.Destroy(c.Response(), c.Request()); err != nil {
		srv.logger.Warn("failed to clear session cookie", "err", err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// resumeSession rehydrates the live OAuth session for the cookie identity.
// Returns ok=false for anonymous requests. An established session that fails
// to restore is discarded on both sides: the stored credential row is deleted
// and the cookie destroyed, so dead refresh material does not accumulate and a
// poisoned cookie cannot cause the same failure on every subsequent request.
func (srv *Server) resumeSession(c echo.Context) (*oauth.ClientSession, syntax.DID, bool) {
	ctx := c.Request().Context()
	c.Response().Header().Set("Vary", "Cookie")

	did, ok := srv.sessions.Read(c.Request())
	if !ok {
		return nil, "", false
	}

	stored, err := srv.store.GetSession(ctx, did, "")
	if err != nil {
		return srv.failRestore(c, did, err)
	}
	sess, err := srv.oauth.ResumeSession(ctx, did, stored.SessionID)
	if err != nil {
		return srv.failRestore(c, did, err)
	}

	c.Response().Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, private", srv.cacheMaxAge))
	return sess, did, true
}

// failRestore reports an unrecoverable session. Both halves are discarded:
// the stored credential row (best-effort) and the browser cookie.
func (srv *Server) failRestore(c echo.Context, did syntax.DID, err error) (*oauth.ClientSession, syntax.DID, bool) {
	srv.logger.Warn("session restore failed", "did", did, "err", err)
	if err := srv.store.DeleteSession(c.Request().Context(), did, ""); err != nil {
		srv.logger.Warn("failed to discard unrecoverable credential", "did", did, "err", err)
	}
	srv.sessions.Destroy(c.Response(), c.Request())
	return nil, "", false
}
