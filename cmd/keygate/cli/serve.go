package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/framingui/keygate/internal/apikey"
	"github.com/framingui/keygate/internal/entitlement"
	"github.com/framingui/keygate/internal/server"
	"github.com/framingui/keygate/internal/service"
	"github.com/framingui/keygate/internal/telemetry"
)

const banner = `
 _  _________   ______    _  _____ _____
| |/ / ____\ \ / / ___|  / \|_   _| ____|
| ' /|  _|  \ V / |  _  / _ \ | | |  _|
| . \| |___  | || |_| |/ ___ \| | | |___
|_|\_\_____| |_| \____/_/   \_\_| |_____|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keygate API server",
		Long:  "Start the HTTP server that verifies API keys for MCP clients and manages key issuance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dev {
		cfg.Logging.Level = "debug"
	}
	logger := buildLogger(cfg.Logging)

	st, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.Database.Driver)

	limiter, closeLimiter, err := buildLimiter(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("building rate limiter: %w", err)
	}
	defer closeLimiter()
	logger.Info("rate limiter initialized",
		"backend", cfg.RateLimit.Backend,
		"verify_per_window", cfg.RateLimit.VerifyPerWindow,
		"keys_per_window", cfg.RateLimit.KeysPerWindow,
	)

	hasher := apikey.NewHasher(cfg.Auth.BcryptCost)
	resolver := entitlement.NewStoreResolver(st, cfg.Themes.Free, time.Now)

	verifier := service.NewVerifier(st, st, resolver, hasher, limiter, logger)
	keys := service.NewKeyService(st, hasher)
	sessions := service.NewSessionService(st, jwtSecret(cfg, logger), cfg.Auth.SessionTTL)

	tracker := telemetry.New(context.Background(), st, func() telemetry.Properties {
		stats, _ := st.CollectStats(context.Background())
		return telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			DBDriver:  cfg.Database.Driver,
			Users:     stats.Users,
			APIKeys:   stats.Keys,
			Licenses:  stats.Licenses,
		}
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		LoginPerMinute:  cfg.RateLimit.LoginPerMinute,
	}
	srv := server.New(srvCfg, st, verifier, keys, sessions, limiter, logger)

	fmt.Printf("→ Keygate %s\n", appVersion)
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Verify:  http://%s:%d/api/mcp/verify\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI: http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
