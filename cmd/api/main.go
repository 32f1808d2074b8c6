package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	delivery "chain-calendar/internal/adapter/delivery/http"
	"chain-calendar/internal/adapter/gateway"
	handler "chain-calendar/internal/adapter/handler/http"
	"chain-calendar/internal/adapter/rpc"
	"chain-calendar/internal/adapter/storage/badger"
	"chain-calendar/internal/adapter/storage/memory"
	"chain-calendar/internal/adapter/storage/networkconfig"
	"chain-calendar/internal/application"
	"chain-calendar/internal/application/calendar"
	"chain-calendar/internal/application/connection"
	"chain-calendar/internal/application/projection"
	"chain-calendar/internal/application/settings"
	"chain-calendar/internal/config"
	domainRepo "chain-calendar/internal/domain/repository"
	"chain-calendar/internal/logger"
)

func main() {
	// --- Configuration ---
	cfgPath := "configs"
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", cfgPath, err)
	}

	// --- Logger ---
	zapLogger, err := logger.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger.Info("Logger initialized", zap.Any("config", cfg.Logger))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Dependency Injection (Manual) ---
	zapLogger.Info("Initializing dependencies...")

	// Storage
	kv, closeKV, err := openKVStore(cfg.Storage, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open settings store", zap.Error(err))
	}
	defer closeKV()
	store := settings.NewStore(kv, zapLogger)
	networkRepo := networkconfig.NewRepository(cfg.Networks, zapLogger)

	// Connections
	pool := connection.NewPool(rootCtx, zapLogger)
	defer pool.Close()
	manager := connection.NewManager(rootCtx, cfg.Connection, pool, store, rpc.NewAdapterFactory(cfg.Connection, zapLogger), zapLogger)
	reconnector := connection.NewReconnector(manager, cfg.Connection, zapLogger)
	go reconnector.Run(rootCtx)

	// Projection
	engine := projection.NewEngine(cfg.Projection, gateway.NewQuerierFactory(cfg.Projection, zapLogger), zapLogger)
	heads := projection.NewHeadSubscriber(engine, zapLogger)
	defer heads.StopAll()

	// Calendar
	index := calendar.NewIndex(cfg.Calendar.GetLocation(), zapLogger)
	index.Follow(rootCtx, engine)
	filters := calendar.NewFilters(index, store, zapLogger)
	filters.Restore(rootCtx)

	// Registry
	networkService := application.NewNetworkService(rootCtx, networkRepo, store, manager, engine, heads, reconnector, zapLogger)
	if err := networkService.Initialize(rootCtx); err != nil {
		zapLogger.Fatal("Failed to initialize networks", zap.Error(err))
	}

	// Handlers
	calendarHandler := handler.NewCalendarHandler(networkService, index, filters, zapLogger)

	// --- HTTP Router & Server ---
	zapLogger.Info("Setting up HTTP router...")
	r := router.New()
	delivery.RegisterRoutes(r, calendarHandler, zapLogger)

	server := &fasthttp.Server{
		Handler:     delivery.LoggingMiddleware(r.Handler, zapLogger),
		Name:        cfg.App.Name,
		ReadTimeout: 10 * time.Second,
	}

	serverAddr := ":" + cfg.Server.Port
	zapLogger.Info("Starting HTTP server", zap.String("address", serverAddr))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(serverAddr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("HTTP server stopped", zap.Error(err))
		}
	case <-rootCtx.Done():
		zapLogger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			zapLogger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
	}
	zapLogger.Info("Stopped")
}

// openKVStore opens the settings store selected by cfg.
func openKVStore(cfg config.StorageConfig, logger *zap.Logger) (domainRepo.KVStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory settings store, settings are not persisted")
		return memory.NewKVStore(logger), func() {}, nil
	default:
		db, err := badger.Open(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close settings store", zap.Error(err))
			}
		}, nil
	}
}
