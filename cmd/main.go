package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dtroode/refreshguard/internal/api/admin"
	grpcctx "github.com/dtroode/refreshguard/internal/api/grpc/context"
	"github.com/dtroode/refreshguard/internal/api/grpc/router"
	grpcServer "github.com/dtroode/refreshguard/internal/api/grpc/server"
	"github.com/dtroode/refreshguard/internal/audit"
	"github.com/dtroode/refreshguard/internal/clock"
	"github.com/dtroode/refreshguard/internal/config"
	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/password"
	"github.com/dtroode/refreshguard/internal/repository/postgres"
	"github.com/dtroode/refreshguard/internal/rotation"
	"github.com/dtroode/refreshguard/internal/server"
	"github.com/dtroode/refreshguard/internal/service"
	storage "github.com/dtroode/refreshguard/internal/storage/minio"
	"github.com/dtroode/refreshguard/internal/token"
	"github.com/dtroode/refreshguard/internal/tokenstore/memory"
	"github.com/dtroode/refreshguard/internal/tokenstore/redisstore"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

// tokenStore is what the server needs from a token store backend.
type tokenStore interface {
	model.TokenStore
	admin.Pinger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)
	clk := clock.System{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(registry)

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close()

	store, closeStore, err := newTokenStore(ctx, cfg, db, clk)
	if err != nil {
		logger.Fatal("failed to initialize token store", "error", err, "store", cfg.Tokens.Store)
	}
	defer closeStore()

	var archive model.ObjectStore
	if cfg.Storage.Enabled() {
		archive, err = storage.New(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal("failed to initialize audit archive", "error", err)
		}
	} else {
		logger.Info("audit archive disabled, events are only logged")
	}
	dispatcher := audit.NewDispatcher(archive, cfg.Audit.BufferSize, logger)
	defer dispatcher.Close()

	codec, err := token.NewJWT(cfg.JWT.Secret, token.Lifetimes{
		Access:  cfg.Tokens.AccessTTL,
		Refresh: cfg.Tokens.RefreshTTL,
	}, clk)
	if err != nil {
		logger.Fatal("failed to initialize token codec", "error", err)
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		logger.Fatal("failed to initialize password hasher", "error", err)
	}

	userRepo := postgres.NewUserRepository(db)
	engine := rotation.NewEngine(store, codec, clk, cfg.Tokens.OverlapWindow, dispatcher, logger)
	tokenService := service.NewTokenService(codec, engine, clk, logger)
	authService := service.NewAuth(userRepo, hasher, tokenService, logger)
	cleaner := service.NewCleaner(store, cfg.Tokens.CleanupInterval, logger)

	r := router.New(authService, tokenService, grpcctx.NewManager(), router.RateLimit{
		RPS:   cfg.GRPC.RateLimitRPS,
		Burst: cfg.GRPC.RateLimitBurst,
	}, logger)
	rpcServer := grpcServer.NewGRPCServer(r.Register(), fmt.Sprintf(":%s", cfg.GRPC.Port))

	adminRouter := admin.NewRouter(map[string]admin.Pinger{
		"database":    db,
		"token_store": store,
	}, registry, logger)
	adminServer := admin.NewServer(adminRouter, fmt.Sprintf(":%s", cfg.HTTP.Port))

	var sl model.SecurityLayer
	if cfg.GRPC.EnableHTTPS {
		sl = server.NewTLSListener(cfg.GRPC.CertFileName, cfg.GRPC.PrivateKeyFileName)
	} else {
		sl = server.NewPlainListener()
	}

	var wg sync.WaitGroup
	for _, srv := range []struct {
		server model.Server
		layer  model.SecurityLayer
	}{
		{server: rpcServer, layer: sl},
		{server: adminServer, layer: server.NewPlainListener()},
	} {
		wg.Add(1)
		go func(s model.Server, layer model.SecurityLayer) {
			defer wg.Done()
			logger.Info("Starting server on", "address", s.Address())
			if err := s.Start(layer); err != nil {
				logger.Error("failed to start server", "error", err, "address", s.Address())
				stop()
			}
		}(srv.server, srv.layer)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")
	r.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, s := range []model.Server{rpcServer, adminServer} {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Error("error during server shutdown", "error", err, "address", s.Address())
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func newTokenStore(ctx context.Context, cfg *config.Config, db *postgres.Connection, clk model.Clock) (tokenStore, func(), error) {
	switch cfg.Tokens.Store {
	case config.StoreMemory:
		return memory.NewStore(clk), func() {}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.NewStore(client, cfg.Redis.KeyPrefix, clk)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return postgres.NewRefreshTokenRepository(db, clk), func() {}, nil
	}
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
