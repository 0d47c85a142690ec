// Package bff is the backend-for-frontend HTTP service: OAuth login against
// the atproto network bound to an encrypted session cookie, identity
// read-through, membership reconciliation, and the registered-app API surface.
package bff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	atcrypto "github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/bluesky-social/indigo/atproto/identity"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/time/rate"

	"github.com/collectivesocial/open-social/membership"
	"github.com/collectivesocial/open-social/store"
)

// Address the dev frontend serves on; production deployments configure
// FrontendURL instead.
const devFrontendURL = "http://127.0.0.1:5174"

var oauthScopes = []string{"atproto", "transition:generic"}

type Config struct {
	Logger *slog.Logger
	Bind   string

	DatabaseURL      string
	DBMaxConnections int

	// CookieSecret keys the encryption/signing of the browser session cookie.
	CookieSecret string

	// Hostname is the public hostname of this client; empty means localhost
	// development mode.
	Hostname string
	// ClientSecretKey upgrades the OAuth client to confidential mode. P-256
	// private key in multibase encoding.
	ClientSecretKey   string
	ClientSecretKeyID string

	// FrontendURL is where the OAuth callback sends the browser in production.
	FrontendURL string

	PLCHost      string
	PLCRateLimit int

	Production bool
}

type Server struct {
	logger      *slog.Logger
	echo        *echo.Echo
	httpd       *http.Server
	store       *store.Store
	oauth       *oauth.ClientApp
	sessions    *SessionStore
	dir         identity.Directory
	memberships *membership.Reconciler

	frontendURL string
	// metadata endpoints are cacheable for this many seconds; authenticated
	// reads use it for their private cache-control window
	cacheMaxAge int
	production  bool
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if config.CookieSecret == "" {
		return nil, fmt.Errorf("cookie secret is required")
	}

	db, err := store.SetupDatabase(config.DatabaseURL, config.DBMaxConnections)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	st := store.NewStore(db)
	if err := st.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	var oauthConfig oauth.ClientConfig
	if config.Hostname == "" {
		oauthConfig = oauth.NewLocalhostConfig(
			fmt.Sprintf("http://127.0.0.1%s/oauth/callback", config.Bind),
			oauthScopes,
		)
		logger.Info("configuring localhost OAuth client", "callbackURL", oauthConfig.CallbackURL)
	} else {
		oauthConfig = oauth.NewPublicConfig(
			fmt.Sprintf("https://%s/oauth-client-metadata.json", config.Hostname),
			fmt.Sprintf("https://%s/oauth/callback", config.Hostname),
			oauthScopes,
		)
	}
	if config.ClientSecretKey != "" && config.Hostname != "" {
		priv, err := atcrypto.ParsePrivateMultibase(config.ClientSecretKey)
		if err != nil {
			return nil, fmt.Errorf("parsing client secret key: %w", err)
		}
		if err := oauthConfig.SetClientSecret(priv, config.ClientSecretKeyID); err != nil {
			return nil, err
		}
		logger.Info("configuring confidential OAuth client")
	}

	baseDir := identity.BaseDirectory{
		PLCURL: config.PLCHost,
		HTTPClient: http.Client{
			Timeout: time.Second * 10,
		},
		PLCLimiter:            rate.NewLimiter(rate.Limit(config.PLCRateLimit), 1),
		TryAuthoritativeDNS:   true,
		SkipDNSDomainSuffixes: []string{".bsky.social"},
	}
	cacheDir := identity.NewCacheDirectory(&baseDir, 100_000, time.Hour*24, time.Minute*2, time.Minute*5)

	frontendURL := devFrontendURL
	if config.Production && config.FrontendURL != "" {
		frontendURL = config.FrontendURL
	}
	cacheMaxAge := 300
	if config.Production {
		cacheMaxAge = 60
	}

	srv := &Server{
		logger:   logger,
		store:    st,
		oauth:    oauth.NewClientApp(&oauthConfig, st),
		sessions: NewSessionStore([]byte(config.CookieSecret), config.Production),
		dir:      &cacheDir,
		memberships: &membership.Reconciler{
			Communities: &membership.NetworkDirectory{
				Dir:        &cacheDir,
				HTTPClient: &http.Client{Timeout: time.Second * 10},
			},
			Logger: logger,
		},
		frontendURL: frontendURL,
		cacheMaxAge: cacheMaxAge,
		production:  config.Production,
	}

	allowOrigins := []string{devFrontendURL, "http://localhost:5174"}
	if config.Production {
		allowOrigins = []string{frontendURL}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowOrigins,
		AllowCredentials: true,
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/health", srv.HandleHealthCheck)
	e.GET("/oauth-client-metadata.json", srv.HandleClientMetadata)
	e.GET("/.well-known/jwks.json", srv.HandleJWKS)
	e.GET("/oauth/callback", srv.HandleOAuthCallback)
	e.POST("/login", srv.HandleLogin)
	e.POST("/logout", srv.HandleLogout)
	e.GET("/users/me", srv.HandleGetCurrentUser)
	e.GET("/users/me/memberships", srv.HandleListMemberships)

	apps := e.Group("/api/v1/apps")
	apps.POST("/register", srv.HandleRegisterApp)
	apps.GET("/me", srv.HandleGetCurrentApp, srv.RequireAPIKey)

	srv.echo = e
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		message = fmt.Sprintf("%s", he.Message)
	}
	errorCode := "InternalError"
	if code < 500 {
		// eg "Not Found" -> "NotFound", "Method Not Allowed" -> "MethodNotAllowed"
		if txt := strings.ReplaceAll(http.StatusText(code), " ", ""); txt != "" {
			errorCode = txt
		}
	} else {
		srv.logger.Warn("unhandled request error", "path", c.Request().URL.Path, "err", err)
	}
	if c.Response().Committed {
		return
	}
	c.JSON(code, GenericError{Error: errorCode, Message: message})
}
