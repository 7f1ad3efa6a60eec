// Command crm-cache-proxy fronts the CRM REST API with the response cache
// and exposes the result storage chain over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/crm-cache/pkg/cache"
	"github.com/Sternrassler/crm-cache/pkg/client"
	"github.com/Sternrassler/crm-cache/pkg/config"
	"github.com/Sternrassler/crm-cache/pkg/logging"
	"github.com/Sternrassler/crm-cache/pkg/storage"
	"github.com/Sternrassler/crm-cache/pkg/tier"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)
	logger := logging.NewLogger("crm-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// run wires the tiers, cache, chain and client and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	durable, closeDurable, err := openDurable(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDurable()

	session, closeSession, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer closeSession()

	responseCache := cache.New(cache.Options{
		Durable:       durable,
		DefaultTTL:    cfg.DefaultTTL,
		SweepInterval: cfg.SweepInterval,
	})
	defer responseCache.Close()

	results := storage.New(storage.Options{
		DefaultTTL:    cfg.DefaultTTL,
		SweepInterval: cfg.SweepInterval,
	}, session, durable, nil)
	defer results.Close()

	crmCfg := client.DefaultConfig(cfg.APIBaseURL, cfg.UserAgent, responseCache)
	crmCfg.Results = results
	crmClient, err := client.New(crmCfg)
	if err != nil {
		return fmt.Errorf("create CRM client: %w", err)
	}
	defer crmClient.Close()

	if cfg.SweepInterval > 0 {
		responseCache.StartBackgroundSweep(cfg.SweepInterval)
		results.StartBackgroundSweep(cfg.SweepInterval)
	}

	s := &server{
		client:  crmClient,
		cache:   responseCache,
		session: session,
		durable: durable,
		cookie: tier.CookieConfig{
			SiteURL:  cfg.CookieSiteURL,
			MaxBytes: cfg.CookieMaxBytes,
		},
		resultTTL: cfg.DefaultTTL,
		logger:    logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("crm_api", cfg.APIBaseURL).
			Str("durable", durable.Name()).
			Msg("Starting CRM cache proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openDurable opens the configured durable tier. An unreachable Redis falls
// back to an in-process tier so the proxy still starts.
func openDurable(ctx context.Context, cfg config.Config, logger zerolog.Logger) (tier.Backend, func(), error) {
	switch strings.ToLower(cfg.DurableBackend) {
	case config.DurableRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unavailable, using in-process durable tier")
			return tier.NewMemory("durable", 0), func() {}, nil
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
		return tier.NewRedis(redisClient), func() { redisClient.Close() }, nil

	case config.DurableSQLite:
		db, err := tier.OpenSQLite(tier.SQLiteConfig{Path: cfg.SQLitePath, MaxPages: cfg.SQLiteMaxPages})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite tier: %w", err)
		}
		return db, func() { db.Close() }, nil

	default:
		return tier.NewMemory("durable", 0), func() {}, nil
	}
}

// openSession creates the session tier. Zero size disables it.
func openSession(cfg config.Config) (tier.Backend, func(), error) {
	if cfg.SessionCacheMB == 0 {
		return tier.Nop{}, func() {}, nil
	}
	sessionCfg := tier.DefaultSessionConfig()
	sessionCfg.SizeMB = cfg.SessionCacheMB
	session, err := tier.NewSession(sessionCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create session tier: %w", err)
	}
	return session, func() { session.Close() }, nil
}
