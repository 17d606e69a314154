package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/showwhy/discoverd/internal/algorithms"
	"github.com/showwhy/discoverd/internal/algorithms/pc"
	"github.com/showwhy/discoverd/internal/application/sessions"
	"github.com/showwhy/discoverd/internal/application/workers"
	"github.com/showwhy/discoverd/internal/config"
	"github.com/showwhy/discoverd/internal/ports"
	eventsmemory "github.com/showwhy/discoverd/pkg/adapters/events/memory"
	eventsredis "github.com/showwhy/discoverd/pkg/adapters/events/redis"
	"github.com/showwhy/discoverd/pkg/adapters/metrics/prometheus"
	storagememory "github.com/showwhy/discoverd/pkg/adapters/storage/memory"
	storageredis "github.com/showwhy/discoverd/pkg/adapters/storage/redis"
	"github.com/showwhy/discoverd/pkg/api/grpc"
	"github.com/showwhy/discoverd/pkg/api/http"
	"github.com/showwhy/discoverd/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting discovery server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("store_backend", cfg.StoreBackend))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("discovery server failed", zap.Error(err))
	}

	logger.Info("discovery server shut down complete")
}

// run wires the components and serves until a shutdown signal arrives
func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	backend, eventBus, closeBackend, err := initBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	metricsCollector := prometheus.NewCollector(prom.DefaultRegisterer)

	registry := algorithms.NewRegistry(
		pc.New(pc.Config{
			Alpha:           cfg.Discovery.Alpha,
			MaxConditioning: cfg.Discovery.MaxConditioning,
		}, logger),
	)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		registry,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	// Initialize application components
	sessionMgr := sessions.NewManager(
		backend,
		eventBus,
		workerPool,
		metricsCollector,
		sessions.NewValidator(),
		logger,
		cfg.Discovery.SessionTTL,
		cfg.Discovery.ReapInterval,
	)

	if err := sessionMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:            cfg.HTTPPort,
		Sessions:        sessionMgr,
		Health:          workerPool.Health(),
		MaxDatasetBytes: cfg.Discovery.MaxDatasetBytes,
		Logger:          logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, sessionMgr, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Checker:       workerPool.Health(),
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	logger.Info("discovery server started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("algorithms", algorithmNames(registry)))

	// Start servers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}

		if err := sessionMgr.Shutdown(shutdownCtx); err != nil {
			logger.Error("session manager shutdown error", zap.Error(err))
		}

		if err := workerPool.Shutdown(shutdownCtx); err != nil {
			logger.Error("worker pool shutdown error", zap.Error(err))
		}

		return nil
	})

	return g.Wait()
}

// initBackend creates the state backend and event bus selected by cfg
func initBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.StateBackend, ports.EventBus, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		eventBus := eventsmemory.NewInMemoryEventBus()
		closeFn := func() {
			if err := eventBus.Close(); err != nil {
				logger.Error("event bus close error", zap.Error(err))
			}
		}
		return storagememory.NewInMemoryStateStorage(), eventBus, closeFn, nil
	}

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	eventBus := eventsredis.NewStreamsEventBus(redisClient, cfg.Redis.StreamMaxLength, logger)
	stateStorage := storageredis.NewStateStorage(redisClient, cfg.Redis.StateTTL, logger)

	closeFn := func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}
	return stateStorage, eventBus, closeFn, nil
}

func algorithmNames(registry *algorithms.Registry) []string {
	names := make([]string, 0)
	for _, name := range registry.Names() {
		names = append(names, string(name))
	}
	return names
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
