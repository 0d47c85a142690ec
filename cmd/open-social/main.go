// open-social is the OpenSocial backend-for-frontend: atproto OAuth login,
// session management, and community membership reads.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"

	"github.com/collectivesocial/open-social/bff"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "open-social",
		Usage:   "community membership API for the atproto network",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"OPENSOCIAL_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			&cli.Command{
				Name:   "serve",
				Usage:  "run the API daemon",
				Action: runServeCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "bind",
						Usage:   "Specify the local IP/port to bind to",
						Value:   ":8080",
						EnvVars: []string{"OPENSOCIAL_BIND"},
					},
					&cli.StringFlag{
						Name:    "metrics-listen",
						Usage:   "IP or address, and port, to listen on for metrics APIs",
						Value:   ":3989",
						EnvVars: []string{"OPENSOCIAL_METRICS_LISTEN"},
					},
					&cli.StringFlag{
						Name:    "database-url",
						Usage:   "database connection string (postgres:// or sqlite://)",
						Value:   "sqlite://data/opensocial/opensocial.sqlite",
						EnvVars: []string{"DATABASE_URL"},
					},
					&cli.IntFlag{
						Name:    "db-max-connections",
						Usage:   "maximum number of database connections",
						Value:   40,
						EnvVars: []string{"OPENSOCIAL_DB_MAX_CONNECTIONS"},
					},
					&cli.StringFlag{
						Name:     "cookie-secret",
						Usage:    "random string/token used for session cookie security",
						Required: true,
						EnvVars:  []string{"COOKIE_SECRET"},
					},
					&cli.StringFlag{
						Name:    "hostname",
						Usage:   "public host name for this client (if not localhost dev mode)",
						EnvVars: []string{"OPENSOCIAL_HOSTNAME"},
					},
					&cli.StringFlag{
						Name:    "client-secret-key",
						Usage:   "confidential client secret key. should be P-256 private key in multibase encoding",
						EnvVars: []string{"CLIENT_SECRET_KEY"},
					},
					&cli.StringFlag{
						Name:    "client-secret-key-id",
						Usage:   "key id for client-secret-key",
						Value:   "primary",
						EnvVars: []string{"CLIENT_SECRET_KEY_ID"},
					},
					&cli.StringFlag{
						Name:    "frontend-url",
						Usage:   "frontend address the OAuth callback redirects to in production",
						EnvVars: []string{"SERVICE_URL"},
					},
					&cli.StringFlag{
						Name:    "env",
						Usage:   "deployment environment (development or production)",
						Value:   "development",
						EnvVars: []string{"OPENSOCIAL_ENV", "NODE_ENV"},
					},
					&cli.StringFlag{
						Name:    "atp-plc-host",
						Usage:   "method, hostname, and port of PLC registry",
						Value:   "https://plc.directory",
						EnvVars: []string{"ATP_PLC_HOST"},
					},
					&cli.IntFlag{
						Name:    "plc-rate-limit",
						Usage:   "max number of requests per second to PLC registry",
						Value:   100,
						EnvVars: []string{"OPENSOCIAL_PLC_RATE_LIMIT"},
					},
				},
			},
		},
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func runServeCmd(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)

	srv, err := bff.NewServer(bff.Config{
		Logger:            logger,
		Bind:              cctx.String("bind"),
		DatabaseURL:       cctx.String("database-url"),
		DBMaxConnections:  cctx.Int("db-max-connections"),
		CookieSecret:      cctx.String("cookie-secret"),
		Hostname:          cctx.String("hostname"),
		ClientSecretKey:   cctx.String("client-secret-key"),
		ClientSecretKeyID: cctx.String("client-secret-key-id"),
		FrontendURL:       cctx.String("frontend-url"),
		PLCHost:           cctx.String("atp-plc-host"),
		PLCRateLimit:      cctx.Int("plc-rate-limit"),
		Production:        cctx.String("env") == "production",
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}

	// prometheus HTTP endpoint: /metrics
	go func() {
		if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
			slog.Error("failed to start metrics endpoint", "error", err)
			// NOTE: not crashing or halting process here
		}
	}()

	return srv.RunAPI()
}
