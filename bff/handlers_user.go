package bff

import (
	"encoding/json"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/labstack/echo/v4"

	"github.com/collectivesocial/open-social/membership"
)

type userView struct {
	DID         string  `json:"did"`
	Handle      string  `json:"handle"`
	DisplayName *string `json:"displayName,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
	Description *string `json:"description,omitempty"`
}

// GET /users/me
//
// Always a fresh read-through to the network; profile data is never cached
// across requests.
func (srv *Server) HandleGetCurrentUser(c echo.Context) error {
	ctx := c.Request().Context()

	sess, did, ok := srv.resumeSession(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, GenericError{
			Error:   "AuthenticationRequired",
			Message: "not authenticated",
		})
	}

	raw, err := sess.APIClient().Get(ctx, syntax.NSID("app.bsky.actor.getProfile"), map[string]string{
		"actor": did.String(),
	})
	if err != nil {
		srv.logger.Warn("profile fetch failed", "did", did, "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "UpstreamFailure",
			Message: "failed to fetch profile",
		})
	}

	var profile struct {
		Handle      string  `json:"handle"`
		DisplayName *string `json:"displayName"`
		Avatar      *string `json:"avatar"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(*raw, &profile); err != nil {
		srv.logger.Warn("profile response malformed", "did", did, "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "UpstreamFailure",
			Message: "failed to fetch profile",
		})
	}

	return c.JSON(http.StatusOK, userView{
		DID:         did.String(),
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Avatar:      profile.Avatar,
		Description: profile.Description,
	})
}

type membershipsResponse struct {
	Memberships []membership.View `json:"memberships"`
}

// GET /users/me/memberships
func (srv *Server) HandleListMemberships(c echo.Context) error {
	ctx := c.Request().Context()

	sess, did, ok := srv.resumeSession(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, GenericError{
			Error:   "AuthenticationRequired",
			Message: "not authenticated",
		})
	}

	views, err := srv.memberships.ListMemberships(ctx, did, sess.APIClient())
	if err != nil {
		srv.logger.Warn("membership listing failed", "did", did, "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "UpstreamFailure",
			Message: "failed to list memberships",
		})
	}

	return c.JSON(http.StatusOK, membershipsResponse{Memberships: views})
}
