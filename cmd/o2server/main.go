package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/o2server/internal/authenticator"
	"github.com/dropDatabas3/o2server/internal/config"
	httpx "github.com/dropDatabas3/o2server/internal/http"
	"github.com/dropDatabas3/o2server/internal/oauth2/flow"
	"github.com/dropDatabas3/o2server/internal/observability/logger"
	"github.com/dropDatabas3/o2server/internal/rate"
	"github.com/dropDatabas3/o2server/internal/store/core"
	"github.com/dropDatabas3/o2server/internal/store/memory"
	"github.com/dropDatabas3/o2server/internal/store/pg"
	rdb "github.com/redis/go-redis/v9"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "o2server",
		Short:         "Servidor de autorización OAuth2",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "ruta al config YAML")
	root.AddCommand(serveCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	// .env es opcional; los overrides de entorno pisan el YAML.
	_ = godotenv.Load()
	return config.Load(cfgPath)
}

// openStore arma el store según el driver y aplica migraciones si corresponde.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, *pg.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			MinConns:        int32(cfg.Storage.Postgres.MinConns),
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime(),
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.Postgres.Migrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return st, st, nil
	default:
		return memory.New(), nil, nil
	}
}

func buildLimiter(cfg *config.Config) rate.Limiter {
	if !cfg.Rate.Enabled {
		return nil
	}
	if cfg.Rate.Redis.Addr != "" {
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Rate.Redis.Addr, DB: cfg.Rate.Redis.DB})
		return rate.NewRedisLimiter(client, cfg.Rate.Redis.Prefix, cfg.Rate.MaxRequests, cfg.RateWindow())
	}
	return rate.NewMemoryLimiter(cfg.Rate.MaxRequests, cfg.RateWindow())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, pgStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			metricsCfg := httpx.MetricsConfig{}
			if pgStore != nil {
				metricsCfg.Pool = pgStore.Pool
			}
			metricsHandler, err := httpx.RegisterMetrics(metricsCfg)
			if err != nil {
				return err
			}

			srv := &httpx.Server{
				Store: st,
				Flow: &flow.Deps{
					Auth:   authenticator.NewRegistry(&http.Client{Timeout: cfg.UpstreamTimeout()}),
					Clock:  core.SystemClock,
					Issuer: cfg.Server.PublicURL,
				},
			}
			router := httpx.NewRouter(srv, metricsHandler, buildLimiter(cfg))

			logger.L().Info("starting",
				logger.String("addr", cfg.Server.Addr),
				logger.String("driver", cfg.Storage.Driver),
				logger.String("public_url", cfg.Server.PublicURL),
			)
			return httpx.Run(ctx, cfg.Server.Addr, router)
		},
	}
}

