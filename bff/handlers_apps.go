package bff

import (
	"errors"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/labstack/echo/v4"

	"github.com/collectivesocial/open-social/store"
)

const apiKeyHeader = "X-API-Key"

type registerAppRequest struct {
	Name       string `json:"name" form:"name"`
	Domain     string `json:"domain" form:"domain"`
	CreatorDID string `json:"creator_did" form:"creator_did"`
}

type appView struct {
	AppID     string    `json:"app_id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type registerAppResponse struct {
	App       appView `json:"app"`
	APISecret string  `json:"api_secret"`
	Message   string  `json:"message"`
}

// POST /api/v1/apps/register
func (srv *Server) HandleRegisterApp(c echo.Context) error {
	ctx := c.Request().Context()

	var body registerAppRequest
	if err := c.Bind(&body); err != nil || body.Name == "" || body.Domain == "" || body.CreatorDID == "" {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidInput",
			Message: "missing required fields: name, domain, creator_did",
		})
	}
	if _, err := syntax.ParseDID(body.CreatorDID); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidInput",
			Message: "creator_did is not a valid DID",
		})
	}

	reg, err := srv.store.RegisterApp(ctx, body.Name, body.Domain, body.CreatorDID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateDomain) {
			return c.JSON(http.StatusConflict, GenericError{
				Error:   "Conflict",
				Message: "app with this domain already exists",
			})
		}
		srv.logger.Error("app registration failed", "domain", body.Domain, "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "UpstreamFailure",
			Message: "failed to register app",
		})
	}

	return c.JSON(http.StatusOK, registerAppResponse{
		App: appView{
			AppID:     reg.App.AppID,
			Name:      reg.App.Name,
			Domain:    reg.App.Domain,
			APIKey:    reg.App.APIKey,
			CreatedAt: reg.App.CreatedAt,
		},
		APISecret: reg.APISecret,
		Message:   "Store the api_secret securely - it will not be shown again",
	})
}

// RequireAPIKey authenticates registered apps by their API key header.
func (srv *Server) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		apiKey := c.Request().Header.Get(apiKeyHeader)
		if apiKey == "" {
			return c.JSON(http.StatusUnauthorized, GenericError{
				Error:   "AuthenticationRequired",
				Message: "API key required",
			})
		}

		app, err := srv.store.GetAppByAPIKey(ctx, apiKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, GenericError{
					Error:   "AuthenticationRequired",
					Message: "invalid API key",
				})
			}
			srv.logger.Error("API key lookup failed", "err", err)
			return c.JSON(http.StatusInternalServerError, GenericError{
				Error:   "UpstreamFailure",
				Message: "authentication failed",
			})
		}

		c.Set("app", app)
		return next(c)
	}
}

// GET /api/v1/apps/me
func (srv *Server) HandleGetCurrentApp(c echo.Context) error {
	app, ok := c.Get("app").(*store.App)
	if !ok {
		return c.JSON(http.StatusUnauthorized, GenericError{
			Error:   "AuthenticationRequired",
			Message: "API key required",
		})
	}
	return c.JSON(http.StatusOK, appView{
		AppID:     app.AppID,
		Name:      app.Name,
		Domain:    app.Domain,
		CreatedAt: app.CreatedAt,
	})
}

type healthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// GET /health
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, healthStatus{
		Status:    "ok",
		Service:   "opensocial-api",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
