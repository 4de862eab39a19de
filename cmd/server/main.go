// Hedron - Hedera DeFi agent relay server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/api"
	"github.com/rofergon/Hedron/internal/cache"
	"github.com/rofergon/Hedron/internal/config"
	"github.com/rofergon/Hedron/internal/events"
	"github.com/rofergon/Hedron/internal/middleware"
	"github.com/rofergon/Hedron/internal/relay"
	"github.com/rofergon/Hedron/internal/session"
	"github.com/rofergon/Hedron/internal/store"
	"github.com/rofergon/Hedron/internal/tools"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"container", config.IsContainer(), "agent_provider", cfg.Agent.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	publisher := events.NewAsync(newPublisher(cfg, logger), events.AsyncConfig{
		QueueSize: cfg.Events.QueueSize,
		Timeout:   cfg.Events.Timeout,
	}, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			slog.Error("Failed to close event publisher", "error", closeErr)
		}
	}()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	factory, cleanup, err := newAgentFactory(ctx, cfg, repo, logger)
	if err != nil {
		slog.Error("Failed to initialize agent", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Initialize services.
	registry := session.NewRegistry(factory,
		session.WithPublisher(publisher),
		session.WithLogger(logger),
	)
	defer registry.CloseAll()

	rl := relay.New(registry,
		relay.WithRepository(repo),
		relay.WithPublisher(publisher),
		relay.WithConversationLogger(conversationLogger),
		relay.WithLogger(logger),
	)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, registry, cfg.HealthTimeout)
	wsHandler := relay.NewWebSocketHandler(rl, relay.WebSocketConfig{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		InboxSize:     cfg.WebSocket.InboxSize,
		ReadLimit:     cfg.WebSocket.ReadLimit,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))

	healthHandler.RegisterHealth(r)
	r.Get("/ws", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go runThreadCleanup(ctx, repo, cfg.ThreadTTL, cfg.CleanupInterval)
	slog.Info("Thread cleanup worker started", "thread_ttl", cfg.ThreadTTL, "interval", cfg.CleanupInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if len(cfg.Events.KafkaBrokers) == 0 {
		slog.Info("Kafka not configured, lifecycle events are logged only")
		return events.NewLogPublisher(logger)
	}
	p, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
	if err != nil {
		slog.Warn("Failed to initialize Kafka publisher, falling back to logging", "error", err)
		return events.NewLogPublisher(logger)
	}
	slog.Info("Kafka publisher initialized", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	return p
}

// newAgentFactory builds the configured agent backend. The returned cleanup
// releases its connections.
func newAgentFactory(ctx context.Context, cfg *config.Config, repo store.Repository, logger *slog.Logger) (agent.Factory, func(), error) {
	switch cfg.Agent.Provider {
	case config.ProviderGRPC:
		grpcCfg := agent.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Agent.Addr
		grpcCfg.RequestTimeout = cfg.Agent.Timeout
		slog.Info("Connecting to agent sidecar via gRPC", "address", grpcCfg.Address)
		client, err := agent.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil

	case config.ProviderGemini:
		deps, cleanup, err := newToolDeps(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		factory, err := agent.NewGeminiFactory(ctx, agent.GeminiConfig{
			APIKey:        cfg.Agent.GeminiAPIKey,
			Model:         cfg.Agent.Model,
			MaxToolRounds: cfg.Agent.MaxToolRounds,
		}, tools.Provider(deps), repo, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		slog.Info("Gemini agent initialized", "model", cfg.Agent.Model, "tokens", deps.Registry.Symbols())
		return factory, cleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown agent provider %q", cfg.Agent.Provider)
}

func newToolDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tools.Deps, func(), error) {
	reg, err := tools.LoadRegistry(cfg.Chain.RegistryPath)
	if err != nil {
		return tools.Deps{}, nil, err
	}

	chain, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return tools.Deps{}, nil, fmt.Errorf("dial json-rpc relay: %w", err)
	}

	var respCache cache.Cache
	if cfg.Cache.RedisAddr != "" {
		respCache, err = cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			chain.Close()
			return tools.Deps{}, nil, err
		}
		slog.Info("Redis response cache connected", "addr", cfg.Cache.RedisAddr)
	} else {
		respCache = cache.NewMemory(time.Minute)
	}

	rest := tools.NewRESTClient(tools.RESTConfig{
		RatePerSecond: cfg.DeFi.RateLimit,
		CacheTTL:      cfg.DeFi.CacheTTL,
	}, respCache, logger)

	deps := tools.Deps{
		Registry: reg,
		Builder:  tools.NewTxBuilder(chain, reg.ChainID),
		Mirror:   tools.NewMirrorNode(rest, cfg.Chain.MirrorURL),
		Prices:   tools.NewSaucerSwap(rest, cfg.DeFi.SaucerSwapURL, cfg.DeFi.SaucerSwapKey),
		Market:   tools.NewBonzo(rest, cfg.DeFi.BonzoURL),
	}
	cleanup := func() {
		chain.Close()
		if err := respCache.Close(); err != nil {
			slog.Error("Failed to close response cache", "error", err)
		}
	}
	return deps, cleanup, nil
}

// runThreadCleanup deletes conversation threads idle for longer than ttl.
func runThreadCleanup(ctx context.Context, repo store.Repository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupExpiredThreads(ctx, ttl)
			if err != nil {
				slog.Error("Thread cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Expired threads removed", "count", n)
			}
		}
	}
}
