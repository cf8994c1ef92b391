package governance

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/approval"
	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/policy"
	"github.com/xela07ax/map-control-plane/internal/rollback"
)

// OptimizationReader отдает примененные оптимизации маршрута для переоценки.
type OptimizationReader interface {
	ListAppliedByRoute(ctx context.Context, route string) ([]domain.OptimizationLog, error)
}

// API — сервисная HTTP-поверхность governance на стороне mapd.
// Вызывается продуктовым бэкендом (server-to-server), поэтому живет за тем же
// bearer-периметром, что и федерация. Два kill-switch-а: governance выключен —
// политики не применяются, действия проходят без ограничений; локальный
// оптимизатор выключен — путь автопубликации и отката недоступен.
type API struct {
	governanceOn  bool
	optimizerOn   bool
	engine        *policy.Engine
	gates         *approval.Gates
	rollbacks     *rollback.Service
	optimizations OptimizationReader
	logger        *zap.Logger
}

func NewAPI(
	governanceOn, optimizerOn bool,
	engine *policy.Engine,
	gates *approval.Gates,
	rollbacks *rollback.Service,
	optimizations OptimizationReader,
	logger *zap.Logger,
) *API {
	return &API{
		governanceOn:  governanceOn,
		optimizerOn:   optimizerOn,
		engine:        engine,
		gates:         gates,
		rollbacks:     rollbacks,
		optimizations: optimizations,
		logger:        logger,
	}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/policy/check", a.policyCheck)
	r.Post("/autopublish/evaluate", a.autoPublishEvaluate)
	r.Post("/autopublish/apply", a.autoPublishApply)
	r.Post("/rollback", a.autoRollback)
	return r
}

type policyCheckRequest struct {
	Route            string  `json:"route"`
	Confidence       float64 `json:"confidence"`
	Action           string  `json:"action"`
	RecommendationID string  `json:"recommendation_id,omitempty"`
}

// policyCheck прогоняет предложенное действие через таблицу правил,
// фиксирует вердикт событием policy_update и шлет алерт при нарушении.
// POST /governance/policy/check
func (a *API) policyCheck(w http.ResponseWriter, r *http.Request) {
	var req policyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Route == "" {
		http.Error(w, "route is required", http.StatusBadRequest)
		return
	}

	if !a.governanceOn {
		writeJSON(w, domain.PolicyEvaluation{
			Status:   domain.PolicyAllowed,
			Reasons:  []string{},
			Category: policy.ResolveCategory(req.Route),
		})
		return
	}

	eval := policy.Evaluate(policy.Request{
		Route:      req.Route,
		Confidence: req.Confidence,
		Action:     req.Action,
	})
	a.engine.NotifyViolation(req.Route, eval)
	if err := a.engine.RecordDecision(r.Context(), req.Route, eval, req.RecommendationID); err != nil {
		a.logger.Warn("failed to record policy decision",
			zap.String("route", req.Route), zap.Error(err))
	}

	writeJSON(w, eval)
}

// autoPublishEvaluate отвечает вердиктом цепочки вето без списания квоты.
// POST /governance/autopublish/evaluate
func (a *API) autoPublishEvaluate(w http.ResponseWriter, r *http.Request) {
	var req approval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !a.optimizerOn {
		writeJSON(w, domain.AutoPublishEvaluation{
			Decision: domain.DecisionNeedsApproval,
			Reasons:  []string{"local optimizer is disabled"},
		})
		return
	}
	eval, err := a.gates.Evaluate(r.Context(), req)
	if err != nil {
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, eval)
}

type autoPublishApplyRequest struct {
	approval.Request
	ContentID    string `json:"content_id,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
	VariantID    string `json:"variant_id,omitempty"`
	Reason       string `json:"reason"`
}

type autoPublishApplyResponse struct {
	Evaluation domain.AutoPublishEvaluation `json:"evaluation"`
	Action     *domain.AutoAction           `json:"action,omitempty"`
}

// autoPublishApply — полный путь автопубликации: вето-цепочка, атомарное
// резервирование квоты, аудит-запись. Вердикт needs_approval не создает
// записи, действие остается за оператором.
// POST /governance/autopublish/apply
func (a *API) autoPublishApply(w http.ResponseWriter, r *http.Request) {
	var req autoPublishApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !a.optimizerOn {
		http.Error(w, "local optimizer is disabled, auto-apply path is unavailable", http.StatusConflict)
		return
	}

	eval, err := a.gates.Evaluate(r.Context(), req.Request)
	if err != nil {
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	if eval.Decision != domain.DecisionAuto {
		writeJSON(w, autoPublishApplyResponse{Evaluation: eval})
		return
	}

	reserved, err := a.gates.ReserveQuota(r.Context(), req.OrganizationID)
	if err != nil {
		http.Error(w, "quota reservation failed", http.StatusInternalServerError)
		return
	}
	if !reserved {
		// Квоту успел забрать конкурирующий запрос между Evaluate и ReserveQuota
		eval.Decision = domain.DecisionNeedsApproval
		eval.Reasons = append(eval.Reasons, "daily auto-publish quota exhausted")
		writeJSON(w, autoPublishApplyResponse{Evaluation: eval})
		return
	}

	action, err := a.gates.LogAutoAction(r.Context(), domain.AutoAction{
		OrganizationID: req.OrganizationID,
		ContentID:      req.ContentID,
		ExperimentID:   req.ExperimentID,
		VariantID:      req.VariantID,
		Reason:         req.Reason,
		Confidence:     req.Confidence,
	})
	if err != nil {
		http.Error(w, "failed to record auto action", http.StatusInternalServerError)
		return
	}

	writeJSON(w, autoPublishApplyResponse{Evaluation: eval, Action: &action})
}

type rollbackRequest struct {
	Route           string  `json:"route"`
	CompositeImpact float64 `json:"composite_impact"`
	Threshold       float64 `json:"threshold,omitempty"`
}

type rollbackResponse struct {
	Evaluated int                     `json:"evaluated"`
	Results   []domain.RollbackResult `json:"results"`
}

// autoRollback переоценивает примененные оптимизации маршрута и откатывает
// их при композитной регрессии ниже порога.
// POST /governance/rollback
func (a *API) autoRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Route == "" {
		http.Error(w, "route is required", http.StatusBadRequest)
		return
	}
	if !a.optimizerOn {
		writeJSON(w, rollbackResponse{Results: []domain.RollbackResult{}})
		return
	}

	logs, err := a.optimizations.ListAppliedByRoute(r.Context(), req.Route)
	if err != nil {
		http.Error(w, "failed to load optimization logs", http.StatusInternalServerError)
		return
	}

	results, err := a.rollbacks.ProcessAutoRollback(r.Context(), logs, req.CompositeImpact, req.Threshold)
	if err != nil {
		http.Error(w, "rollback failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, rollbackResponse{Evaluated: len(logs), Results: results})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
