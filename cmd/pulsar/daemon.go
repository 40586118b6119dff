package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/pulsar/internal/api"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/circuitbreaker"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/webcache"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
		fetchTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}
			if fetchTTL > 0 {
				cfg.Fetch.TTL = fetchTTL
			}

			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			if cfg.Daemon.FetchLog != "" {
				if err := logging.Default().SetOutput(cfg.Daemon.FetchLog); err != nil {
					return err
				}
				defer logging.Default().Close()
			}

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: "pulsar",
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return err
			}

			metrics.InitPrometheus("pulsar", nil)

			s, err := kv.Open(kv.Config{
				Backend:  cfg.Store.Backend,
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Path:     cfg.Store.BoltPath,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			// Facade construction wipes the store.
			c, err := cache.New(ctx, s)
			if err != nil {
				return err
			}
			logging.Op().Info("store flushed at startup", "backend", cfg.Store.Backend)

			fetcher := webcache.New(s, webcache.Options{
				TTL:     cfg.Fetch.TTL,
				Timeout: cfg.Fetch.Timeout,
				Breaker: circuitbreaker.Config{
					ErrorPct: cfg.Fetch.BreakerErrorPct,
				},
			})

			httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Cache:     c,
				Store:     s,
				Fetcher:   fetcher,
				Backend:   cfg.Store.Backend,
				RateLimit: &cfg.RateLimit,
			})
			logging.Op().Info("pulsar daemon listening",
				"addr", cfg.Daemon.HTTPAddr,
				"backend", cfg.Store.Backend,
				"fetch_ttl", cfg.Fetch.TTL.String())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			<-sigCh
			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			observability.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	cmd.Flags().DurationVar(&fetchTTL, "fetch-ttl", 0, "Page cache TTL (overrides config)")

	return cmd
}
