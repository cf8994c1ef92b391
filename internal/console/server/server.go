package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/console/handler"
	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
	"github.com/xela07ax/map-control-plane/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler         // /auth/token
	orchHandler     *handler.OrchestratorHandler // /api/ai/orchestrator
	autonomyHandler *handler.AutonomyHandler     // /api/devtools/autonomy
	actionHandler   *handler.ActionHandler       // /api/ai/actions
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	authH *handler.AuthHandler,
	orchH *handler.OrchestratorHandler,
	autonomyH *handler.AutonomyHandler,
	actionH *handler.ActionHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   authValidator,
		authHandler:     authH,
		orchHandler:     orchH,
		autonomyHandler: autonomyH,
		actionHandler:   actionH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен + scope devtools) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Use(auth.RequireScope(domain.ScopeDevtools))

		// Дашборд оркестрации: реестр агентов, события, конфликты, trust
		r.Get("/api/ai/orchestrator", s.orchHandler.Overview)

		// Управление петлей автономии (pause/resume через Redis Pub/Sub)
		r.Route("/api/devtools/autonomy", func(r chi.Router) {
			r.Get("/", s.autonomyHandler.State)
			r.Post("/", s.autonomyHandler.Control)
		})

		// Аудит автономных действий (Audit Trail + Revert)
		r.Route("/api/ai/actions", func(r chi.Router) {
			r.Get("/", s.actionHandler.List)
			r.Post("/{id}/revert", s.actionHandler.Revert)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
