package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"walletguard-lab/internal/api"
	"walletguard-lab/internal/api/handlers"
	apimiddleware "walletguard-lab/internal/api/middleware"
	"walletguard-lab/internal/config"
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/internal/grpc/healthcheck"
	"walletguard-lab/internal/infrastructure/cache"
	"walletguard-lab/internal/infrastructure/chain"
	"walletguard-lab/internal/infrastructure/database"
	"walletguard-lab/internal/infrastructure/database/repository"
	"walletguard-lab/internal/streaming"
	"walletguard-lab/pkg/logger"
)

const (
	healthInterval       = 15 * time.Second
	sessionSweepInterval = time.Minute
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting WalletGuard Lab")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	infra, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer infra.Close()

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing with local notifications only")
			natsPublisher = nil
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
			defer natsPublisher.Close()
		}
	}

	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()
	log.Info().Bool("nats_enabled", natsPublisher != nil).Msg("event bus initialized")

	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)
	if natsPublisher != nil {
		// changes raised on other instances arrive through JetStream
		go wsHub.Relay(ctx, eventBus)
	}

	// Initialize sessions
	sessionCfg := services.SessionConfig{
		Store:        infra.store,
		Publisher:    streaming.NewEventBusPublisher(eventBus, wsHub),
		Rules:        services.RulesFromConfig(ruleSeeds(cfg.Rules)),
		PollInterval: cfg.Monitor.PollInterval,
		MaxSessions:  cfg.Sessions.Max,
		IdleTTL:      cfg.Sessions.IdleTTL,
	}
	if cfg.Monitor.Enabled && infra.chain != nil {
		sessionCfg.Balances = infra.chain
		sessionCfg.Transfers = infra.chain
	}
	sessions := services.NewSessionManager(services.NewEngine(), sessionCfg, log)
	defer sessions.Close()
	go sessions.Run(ctx, sessionSweepInterval)
	log.Info().
		Str("persistence", cfg.Persistence.Backend).
		Bool("monitor", sessionCfg.Balances != nil).
		Int("rules", len(sessionCfg.Rules)).
		Int("max_sessions", cfg.Sessions.Max).
		Msg("session manager initialized")

	// Create handlers
	deps := handlers.Dependencies{
		Sessions: sessions,
		Health:   infra.pingers(),
		WSHub:    wsHub,
		EventBus: eventBus,
		Version:  cfg.App.Version,
		Logger:   log,
	}
	if infra.chain != nil {
		if signer, ok := infra.chain.Signer(); ok {
			deps.Revoker = infra.chain
			log.Info().Str("signer", signer).Msg("on-chain revoke enabled")
		}
	}
	h := handlers.NewHandlers(deps)

	// Create router
	var limiter apimiddleware.RateLimitStore
	if infra.redis != nil {
		limiter = infra.redis
	}
	router := api.NewRouter(*cfg, h, limiter, log)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Create gRPC server for health probes
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen for gRPC")
	}

	grpcServer := grpc.NewServer()
	checker := healthcheck.NewChecker(infra.grpcPingers(), log)
	checker.Register(grpcServer)
	go checker.Run(ctx, healthInterval)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// infrastructure holds the optional backends selected by configuration
type infrastructure struct {
	db    *database.PostgresDB
	redis *cache.RedisCache
	chain *chain.Client
	store services.SnapshotStore
}

// initInfrastructure connects the persistence backend and the chain client.
// The memory backend needs neither Postgres nor Redis.
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*infrastructure, error) {
	infra := &infrastructure{}

	switch cfg.Persistence.Backend {
	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		infra.db = db

		repo := repository.NewEmergencyRepository(db.Pool())
		if err := repo.EnsureSchema(ctx); err != nil {
			infra.Close()
			return nil, fmt.Errorf("failed to prepare emergency schema: %w", err)
		}
		infra.store = repo
	case "redis":
		redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		infra.redis = redisCache
		infra.store = cache.NewSnapshotStore(redisCache, cfg.Persistence.TTL)
	default:
		infra.store = services.NewMemorySnapshotStore()
	}

	// Rate limiting is backed by Redis even when snapshots live elsewhere
	if infra.redis == nil && cfg.RateLimit.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, rate limiting disabled")
		} else {
			infra.redis = redisCache
		}
	}

	if cfg.Ethereum.RPCURL != "" {
		client, err := chain.New(cfg.Ethereum, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Ethereum RPC, monitor and revoke disabled")
		} else {
			infra.chain = client
		}
	}

	return infra, nil
}

// pingers returns the readiness dependencies for the HTTP health handler
func (i *infrastructure) pingers() map[string]handlers.Pinger {
	deps := make(map[string]handlers.Pinger)
	if i.db != nil {
		deps["postgres"] = i.db
	}
	if i.redis != nil {
		deps["redis"] = i.redis
	}
	return deps
}

func (i *infrastructure) grpcPingers() map[string]healthcheck.Pinger {
	deps := make(map[string]healthcheck.Pinger)
	if i.db != nil {
		deps["postgres"] = i.db
	}
	if i.redis != nil {
		deps["redis"] = i.redis
	}
	return deps
}

// Close releases every connection that was opened
func (i *infrastructure) Close() {
	if i.chain != nil {
		i.chain.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close Redis")
		}
	}
	if i.db != nil {
		i.db.Close()
	}
}

func ruleSeeds(rules []config.RuleConfig) []services.RuleSeed {
	seeds := make([]services.RuleSeed, 0, len(rules))
	for _, r := range rules {
		seeds = append(seeds, services.RuleSeed{
			ID:                r.ID,
			Type:              r.Type,
			Enabled:           r.Enabled,
			Label:             r.Label,
			PercentThreshold:  r.PercentThreshold,
			TimeWindowSeconds: r.TimeWindowSeconds,
		})
	}
	return seeds
}
