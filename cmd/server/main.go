// Command server runs the auth store's admin HTTP surface and wires the
// hybrid hot/cold persistence layer (crypto, codec, hot tier, cold tier,
// write-behind outbox) behind it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/coldstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/crypto"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hotstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/httpapi"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hybrid"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/outbox"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/reqcontext"
	"github.com/vitaliisemenov/baileys-auth-store/internal/config"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
	"github.com/vitaliisemenov/baileys-auth-store/internal/infrastructure/cache"
	"github.com/vitaliisemenov/baileys-auth-store/pkg/logger"
	"github.com/vitaliisemenov/baileys-auth-store/pkg/metrics"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "server",
		Short: "Run the auth store's admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(reconcileOutboxCommand(&configPath))
	root.AddCommand(rotateKeyCommand(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildStore assembles the crypto/codec/hot/cold/outbox/hybrid chain from
// loaded configuration. The caller owns shutting down the returned pool.
func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*hybrid.Store, *postgres.PostgresPool, *metrics.MetricsRegistry, error) {
	pgCfg := &postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          cfg.Database.MaxConnections,
		MinConns:          cfg.Database.MinConnections,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}
	pool := postgres.NewPostgresPool(pgCfg, log)
	if err := pool.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		log.Warn("database migrations failed; continuing with manual intervention required", "error", err)
	}

	redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	}, log)
	if err != nil {
		pool.Disconnect(ctx)
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	cm := crypto.New(crypto.Config{
		EnableEncryption: cfg.Security.EnableEncryption,
		Environment:      cfg.Security.Environment,
		KeyRotationDays:  cfg.Security.KeyRotationDays,
		Logger:           log,
	})
	if err := cm.Initialize([]byte(cfg.Security.MasterKey)); err != nil {
		pool.Disconnect(ctx)
		return nil, nil, nil, fmt.Errorf("initialize crypto manager: %w", err)
	}

	var compressor codec.Compressor
	if cfg.Security.EnableCompression {
		compressor = codec.NewCompressor(codec.Algorithm(cfg.Security.CompressionAlgorithm))
	} else {
		compressor = codec.NoneCompressor{}
	}
	c := codec.New(compressor)

	hot := hotstore.New(redisCache, c, cm, hotstore.Config{
		Prefix:     cfg.Redis.KeyPrefix,
		DefaultTTL: cfg.TTL.DefaultTTL,
	}, log)
	cold := coldstore.New(pool, c, cm, log)

	var ob *outbox.Outbox
	if cfg.Hybrid.EnableWriteBehind {
		ob = outbox.New(pool, c, outbox.NoopQueue{}, outbox.Config{
			VisibilityTimeout: cfg.Hybrid.VisibilityTimeout,
			BatchSize:         cfg.Hybrid.QueueBatchSize,
			MaxAttempts:       cfg.Hybrid.QueueMaxAttempts,
		}, log)
	}

	hybridCfg := hybrid.Config{
		EnableWriteBehind: cfg.Hybrid.EnableWriteBehind,
		BatchConcurrency:  hybrid.DefaultConfig().BatchConcurrency,
		CircuitBreaker: hybrid.CircuitBreakerConfig{
			FailureThreshold: cfg.Hybrid.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.Hybrid.CircuitBreaker.ResetTimeoutMs,
		},
	}

	registry := metrics.NewMetricsRegistry(cfg.Metrics.Namespace)
	store := hybrid.New(hot, cold, ob, hybridCfg, registry.AuthStore(), log)

	return store, pool, registry, nil
}

func buildConfigService(cfg *config.Config, configPath string) config.ConfigService {
	source := config.ConfigSourceEnv
	if configPath != "" {
		source = config.ConfigSourceMixed
	}
	return config.NewConfigService(cfg, configPath, time.Now(), source)
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting auth store", "app", cfg.App.Name, "version", cfg.App.Version, "environment", cfg.App.Environment)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down gracefully", "signal", sig.String())
		cancel()
	}()

	store, pool, registry, err := buildStore(runCtx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Disconnect(context.Background())

	if cfg.Hybrid.EnableWriteBehind {
		go runOutboxReconciler(runCtx, store, cfg.App.Environment, log)
	}

	srv := httpapi.NewServer(httpapi.Config{
		Addr:                    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:             cfg.Server.ReadTimeout,
		WriteTimeout:            cfg.Server.WriteTimeout,
		IdleTimeout:             cfg.Server.IdleTimeout,
		GracefulShutdownTimeout: cfg.Server.GracefulShutdownTimeout,
		Environment:             cfg.App.Environment,
		MetricsRegistry:         registry,
		ConfigService:           buildConfigService(cfg, configPath),
	}, store, log)

	go func() {
		log.Info("admin HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP server failed", "error", err)
			cancel()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server forced to shutdown", "error", err)
		return err
	}

	log.Info("auth store stopped")
	return nil
}

// runOutboxReconciler periodically drains the write-behind ledger on a
// fixed 15-second ticker; the interval does not follow the configured
// visibility timeout.
func runOutboxReconciler(ctx context.Context, store *hybrid.Store, environment string, log *slog.Logger) {
	interval := 15 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc := reqcontext.New(ctx, environment)
			processed, err := store.ReconcileOutbox(rc)
			if err != nil {
				log.Warn("outbox reconcile failed", "error", err)
				continue
			}
			if processed > 0 {
				log.Info("outbox reconcile processed entries", "count", processed)
			}
		}
	}
}

func reconcileOutboxCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-outbox",
		Short: "Run a single write-behind outbox reconcile pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

			ctx := cmd.Context()
			store, pool, _, err := buildStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Disconnect(ctx)

			rc := reqcontext.New(ctx, cfg.App.Environment)
			processed, err := store.ReconcileOutbox(rc)
			if err != nil {
				return fmt.Errorf("reconcile outbox: %w", err)
			}
			log.Info("outbox reconcile complete", "processed", processed)
			return nil
		},
	}
}

// rotateKeyCommand registers a new master key with a throwaway crypto
// manager and reports its derived key id. The registry lives in-process,
// so this validates a candidate key and its id ahead of time; the
// operator still has to update the running config and restart the
// server for the rotation to take effect.
func rotateKeyCommand(configPath *string) *cobra.Command {
	var newKey string
	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Validate a candidate master key and report its derived key id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if newKey == "" {
				return fmt.Errorf("--new-key is required")
			}
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

			cm := crypto.New(crypto.Config{
				EnableEncryption: true,
				Environment:      cfg.Security.Environment,
				KeyRotationDays:  cfg.Security.KeyRotationDays,
				Logger:           log,
			})
			if err := cm.Initialize([]byte(cfg.Security.MasterKey)); err != nil {
				return fmt.Errorf("initialize crypto manager with current master key: %w", err)
			}
			if err := cm.RotateKey([]byte(newKey)); err != nil {
				return fmt.Errorf("rotate key: %w", err)
			}

			stats := cm.KeyStats()
			log.Info("candidate key validated", "newActiveKeyId", stats.ActiveID)
			log.Info("update the config's master key and restart the server to apply this rotation")
			return nil
		},
	}
	cmd.Flags().StringVar(&newKey, "new-key", "", "candidate master key material to validate and derive an id for")
	return cmd
}
