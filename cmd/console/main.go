package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/approval"
	"github.com/xela07ax/map-control-plane/internal/console/handler"
	"github.com/xela07ax/map-control-plane/internal/console/server"
	"github.com/xela07ax/map-control-plane/internal/console/service"
	"github.com/xela07ax/map-control-plane/internal/infra"
	"github.com/xela07ax/map-control-plane/internal/infra/auth"
	"github.com/xela07ax/map-control-plane/internal/orchestrator"
	"github.com/xela07ax/map-control-plane/internal/repository/postgres"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
	"github.com/xela07ax/map-control-plane/internal/trust"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Ключи RSA: console и подписывает токены, и проверяет их
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse RSA private key", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse RSA public key", zap.Error(err))
	}

	// 4. Инициализация слоев (Dependency Injection)
	userRepo := postgres.NewUserRepo(pool)
	eventRepo := postgres.NewEventRepo(pool)
	registryRepo := postgres.NewRegistryRepo(pool)
	actionRepo := postgres.NewActionRepo(pool)

	// Console только читает состояние оркестратора, метрики ему не нужны
	orch := orchestrator.New(eventRepo, registryRepo, cfg.Features.Orchestration, telemetry.NewMetrics(nil), logger)
	trustSvc := trust.NewService(eventRepo, logger)
	gates := approval.NewGates(actionRepo, rdb, cfg.Approval.MaxAutoPublishPerDay, logger)

	authService := service.NewAuthService(userRepo, privKey, pubKey)
	orchService := service.NewOrchestrationService(orch, trustSvc, rdb, logger)
	actionService := service.NewActionService(actionRepo, gates, gates)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewOrchestratorHandler(orchService),
		handler.NewAutonomyHandler(orchService),
		handler.NewActionHandler(actionService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
