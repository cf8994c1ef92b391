package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/approval"
	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/federation"
	"github.com/xela07ax/map-control-plane/internal/governance"
	"github.com/xela07ax/map-control-plane/internal/infra"
	"github.com/xela07ax/map-control-plane/internal/infra/auth"
	"github.com/xela07ax/map-control-plane/internal/loop"
	"github.com/xela07ax/map-control-plane/internal/orchestrator"
	"github.com/xela07ax/map-control-plane/internal/policy"
	"github.com/xela07ax/map-control-plane/internal/priority"
	"github.com/xela07ax/map-control-plane/internal/protocol"
	"github.com/xela07ax/map-control-plane/internal/recovery"
	"github.com/xela07ax/map-control-plane/internal/repository/postgres"
	"github.com/xela07ax/map-control-plane/internal/rollback"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
	"github.com/xela07ax/map-control-plane/internal/trust"
)

// Штатный состав агентов MAP. Регистрация идемпотентна: повторный старт
// процесса обновляет метаданные, не плодя дубликатов.
var agentRoster = []struct {
	role         domain.AgentRole
	name         string
	description  string
	capabilities []string
}{
	{domain.RoleOptimizer, "Local Optimizer", "Предлагает оптимизации маршрутов по телеметрии", []string{"recommendation", "telemetry_sync"}},
	{domain.RoleLearning, "Learning Agent", "Оценивает примененные рекомендации по метрикам", []string{"evaluation"}},
	{domain.RoleGovernance, "Governance Agent", "Применяет политики и разрешает конфликты", []string{"policy_update"}},
	{domain.RoleInsight, "Insight Agent", "Готовит сводки и отчеты по работе сети", []string{"insight_report"}},
	{domain.RoleFederation, "Federation Agent", "Обменивается снимками с peer-тенантами", []string{"telemetry_sync"}},
}

// loopSampler адаптирует выборку из Postgres к контракту петли автономии.
type loopSampler struct {
	events *postgres.EventRepo
}

func (s *loopSampler) Sample(ctx context.Context) (loop.Sample, error) {
	raw, err := s.events.SampleLoopTelemetry(ctx)
	if err != nil {
		return loop.Sample{}, err
	}
	return loop.Sample{BacklogSize: raw.BacklogSize, AvgLatencyMS: raw.AvgLatencyMS}, nil
}

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

	// Контекст жизненного цикла фоновых горутин: cancel() по SIGTERM
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Отдельное соединение под пакетную запись телеметрии
	telemetryRepo, err := postgres.NewTelemetryRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to init telemetry storage", zap.Error(err))
	}
	defer telemetryRepo.Close()

	// 3. Метрики и конвейер телеметрии
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics listener started", zap.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	sinks := []telemetry.Sink{telemetryRepo}
	if cfg.Telemetry.WebhookURL != "" {
		sinks = append(sinks, telemetry.NewWebhookSink(cfg.Telemetry.WebhookURL))
	}
	queue := telemetry.NewQueue(telemetry.NewMultiSink(sinks...), cfg.Telemetry.BufferSize, metrics, logger)
	queue.Start()

	// 4. Ядро MAP: реестр, события, trust, приоритеты, восстановление
	eventRepo := postgres.NewEventRepo(pool)
	registryRepo := postgres.NewRegistryRepo(pool)
	priorityRepo := postgres.NewPriorityRepo(pool)
	recoveryRepo := postgres.NewRecoveryRepo(pool)
	optimizationRepo := postgres.NewOptimizationRepo(pool)
	actionRepo := postgres.NewActionRepo(pool)
	metricsRepo := postgres.NewMetricsRepo(pool)

	orch := orchestrator.New(eventRepo, registryRepo, cfg.Features.Orchestration, metrics, logger)
	for _, a := range agentRoster {
		_, err := orch.RegisterAgent(appCtx, domain.AgentRegistration{
			AgentID:      string(a.role),
			Name:         a.name,
			Description:  a.description,
			Capabilities: a.capabilities,
			Priority:     protocol.BasePriority(a.role),
		})
		if err != nil {
			logger.Fatal("failed to register agent", zap.String("agent_id", string(a.role)), zap.Error(err))
		}
	}

	trustSvc := trust.NewService(eventRepo, logger)
	prioritySvc := priority.NewService(priorityRepo, logger)
	recoveryAgent := recovery.NewAgent(trustSvc, recoveryRepo, logger)

	// 5. Петля автономии
	autonomyLoop := loop.New(
		cfg.Features.Autonomy,
		cfg.Autonomy.BaseIntervalMS,
		orch,
		prioritySvc,
		trustSvc,
		&loopSampler{events: eventRepo},
		recoveryAgent,
		rdb,
		metrics,
		logger,
	)
	autonomyLoop.Start(appCtx)

	// 6. Федерация
	bus := federation.NewBus(
		cfg.Federation.TenantID,
		cfg.Federation.Secret,
		cfg.Federation.Endpoints,
		cfg.Federation.Secret,
		metrics,
		logger,
	)
	fedAgent := federation.NewAgent(cfg.Federation.TenantID, bus, trustSvc, priorityRepo, metricsRepo, logger)

	if cfg.Features.OptimizerGlobal {
		go runFederationScheduler(appCtx, cfg.Federation.BroadcastInterval, rdb, bus, fedAgent, logger)
	} else {
		logger.Info("global optimizer disabled, federation broadcast is off")
	}

	// 7. Governance
	policyEngine := policy.NewEngine(orch, trustSvc, queue, metrics, logger)
	gates := approval.NewGates(actionRepo, rdb, cfg.Approval.MaxAutoPublishPerDay, logger)
	rollbackSvc := rollback.NewService(optimizationRepo, queue, metrics, logger)
	govAPI := governance.NewAPI(
		cfg.Features.Governance,
		cfg.Features.OptimizerLocal,
		policyEngine,
		gates,
		rollbackSvc,
		optimizationRepo,
		logger,
	)

	// 8. HTTP Server
	// Межсервисный периметр: общий federation-секрет либо операторский JWT
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("failed to parse RSA public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	}
	bearer := auth.NewFederationMiddleware(cfg.Federation.Secret, validator, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "tenant_id": cfg.Federation.TenantID})
	})

	router.Group(func(r chi.Router) {
		r.Use(bearer)
		r.Mount("/federation", federation.NewAPI(bus, fedAgent, logger).Routes())
		r.Mount("/governance", govAPI.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("mapd started", zap.String("addr", srv.Addr), zap.String("tenant_id", cfg.Federation.TenantID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("mapd stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()
	autonomyLoop.Stop()
	queue.Stop()
	logger.Info("mapd exited properly")
}

// runFederationScheduler гоняет цикл broadcast-а по расписанию.
// SetNX-замок гарантирует, что из нескольких инстансов тенанта цикл
// выполняет ровно один.
func runFederationScheduler(
	ctx context.Context,
	interval time.Duration,
	rdb *redis.Client,
	bus *federation.Bus,
	agent *federation.Agent,
	logger *zap.Logger,
) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := rdb.SetNX(ctx, infra.RedisKeyLockFederationCycle, "processing", 30*time.Second).Result()
			if err != nil || !ok {
				continue // Либо ошибка сети, либо цикл крутит другой инстанс
			}
			bus.CheckConnections(ctx)
			if _, err := agent.BroadcastLocalSnapshot(ctx); err != nil {
				logger.Warn("federation broadcast failed", zap.Error(err))
			}
		}
	}
}
