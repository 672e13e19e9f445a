// trustanchord serves the trust commitment API: POST /trust/commit,
// GET /trust/verify and GET /trust/health.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emohunter/trustanchor/pkg/anchor"
	"github.com/emohunter/trustanchor/pkg/api"
	"github.com/emohunter/trustanchor/pkg/config"
	"github.com/emohunter/trustanchor/pkg/crypto"
	"github.com/emohunter/trustanchor/pkg/observability"
	"github.com/emohunter/trustanchor/pkg/store"
	"github.com/emohunter/trustanchor/pkg/trust"
)

func main() {
	configPath := flag.String("config", "trustanchor.yaml", "path to optional YAML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	masterKey, err := cfg.DecodeMasterKey()
	if err != nil {
		log.Fatalf("master key: %v", err)
	}
	signer, err := crypto.NewSignerFromBase64(cfg.AgentSecretKey)
	if err != nil {
		log.Fatalf("agent signing key: %v", err)
	}
	logger.Info("agent identity loaded", "did", cfg.AgentDID, "public_key", signer.PublicKeyBase64())

	stores, closeDB, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer closeDB()

	obs, err := observability.New(ctx, observabilityConfig())
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	var client anchor.Client
	if cfg.ChainEnabled {
		client, err = anchor.NewLedgerClient(anchor.LedgerConfig{
			BaseURL:   cfg.LedgerAPIURL,
			APIKey:    cfg.LedgerAPIKey,
			ServiceID: cfg.LedgerServiceID,
		})
		if err != nil {
			log.Fatalf("ledger client: %v", err)
		}
	} else {
		client = anchor.NewSimulatedClient(stores.Anchors)
	}
	// The gauged queue feeds the pending-anchor gauge: every write the
	// adapter degrades to pending increments it, every resolved retry
	// decrements it.
	retries := store.NewGaugedRetryQueue(stores.Retries, obs.AnchorPending)
	adapter := anchor.NewAdapter(client, retries, logger)
	logger.Info("anchor adapter ready", "mode", adapter.Mode())

	service, err := trust.NewService(masterKey, signer, cfg.AgentDID, stores.Receipts, adapter, logger)
	if err != nil {
		log.Fatalf("trust service: %v", err)
	}

	server, err := api.NewServer(service, logger)
	if err != nil {
		log.Fatalf("api server: %v", err)
	}
	server.WithObservability(obs)
	router := api.NewRouter(server, api.RouterOptions{
		Idempotency: newIdempotencyStore(cfg, logger),
		RateLimiter: api.NewRateLimiter(api.DefaultRateLimitConfig()),
		Instrument:  obs.HTTPMiddleware,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, err
		}
		if err := store.MigratePostgres(ctx, db); err != nil {
			return nil, nil, err
		}
		slog.Info("postgres connected")
		return store.NewPostgresStores(db), func() { _ = db.Close() }, nil
	}

	db, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	stores, err := store.NewSQLiteStores(db)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("sqlite opened", "path", cfg.SQLitePath)
	return stores, func() { _ = db.Close() }, nil
}

func newIdempotencyStore(cfg *config.Config, logger *slog.Logger) api.IdempotencyStorer {
	const ttl = 24 * time.Hour
	if cfg.RedisAddr != "" {
		logger.Info("idempotency cache: redis", "addr", cfg.RedisAddr)
		return api.NewRedisIdempotencyStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), ttl)
	}
	return api.NewIdempotencyStore(ttl)
}

func observabilityConfig() *observability.Config {
	cfg := observability.DefaultConfig()
	if os.Getenv("OTEL_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		cfg.OTLPEndpoint = ep
	}
	if os.Getenv("OTEL_INSECURE") == "true" {
		cfg.Insecure = true
	}
	return cfg
}
