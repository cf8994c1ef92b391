// Package policy — правила governance: какие действия агентов допустимы
// на каких маршрутах продукта.
package policy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

// Действия, которые агент может предложить над маршрутом.
const (
	ActionSuggest   = "suggest"
	ActionModify    = "modify"
	ActionAutoApply = "auto-apply"
)

type rule struct {
	minConfidence      float64
	allowedActions     []string
	autoApplyThreshold float64 // 0 == авто-применение запрещено всегда
}

// Таблица правил фиксирована: DATA никогда не применяется автоматически.
var ruleTable = map[domain.RouteCategory]rule{
	domain.CategoryUI: {
		minConfidence:      0.6,
		allowedActions:     []string{ActionModify, ActionAutoApply, ActionSuggest},
		autoApplyThreshold: 0.75,
	},
	domain.CategoryAPI: {
		minConfidence:      0.75,
		allowedActions:     []string{ActionModify, ActionSuggest},
		autoApplyThreshold: 0.85,
	},
	domain.CategoryData: {
		minConfidence:  0.8,
		allowedActions: []string{ActionSuggest},
	},
}

// Критичные префиксы: любые изменения здесь блокируются независимо
// от уверенности.
var criticalPrefixes = []string{"/auth", "/admin", "/app", "/devtools", "/api/internal"}

// ResolveCategory — чистое сопоставление маршрута категории правил.
func ResolveCategory(route string) domain.RouteCategory {
	lower := strings.ToLower(route)
	switch {
	case strings.HasPrefix(lower, "/api"):
		return domain.CategoryAPI
	case strings.Contains(lower, "report"), strings.Contains(lower, "export"),
		strings.HasPrefix(lower, "/data"):
		return domain.CategoryData
	default:
		return domain.CategoryUI
	}
}

// Request — предложенное агентом действие.
type Request struct {
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
}

// Evaluate — чистая проверка по таблице правил. Порядок решения строгий:
// недопустимое действие, затем критичный маршрут, затем мягкие причины.
// Reasons накапливаются в порядке срабатывания и показываются дословно.
func Evaluate(req Request) domain.PolicyEvaluation {
	category := ResolveCategory(req.Route)
	r := ruleTable[category]

	eval := domain.PolicyEvaluation{
		Status:            domain.PolicyAllowed,
		Reasons:           []string{},
		MinimumConfidence: r.minConfidence,
		Category:          category,
	}

	if !contains(r.allowedActions, req.Action) {
		eval.Status = domain.PolicyBlocked
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("action %q is not allowed for category %s", req.Action, category))
		return eval
	}

	for _, prefix := range criticalPrefixes {
		if strings.HasPrefix(strings.ToLower(req.Route), prefix) {
			eval.Status = domain.PolicyBlocked
			eval.Reasons = append(eval.Reasons,
				fmt.Sprintf("route %s matches critical route prefix %s and cannot be changed by agents", req.Route, prefix))
			return eval
		}
	}

	if req.Confidence < r.minConfidence {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("confidence %.2f is below the %s minimum %.2f", req.Confidence, category, r.minConfidence))
	}

	canAutoApply := r.autoApplyThreshold > 0 && req.Confidence >= r.autoApplyThreshold
	if req.Action == ActionAutoApply && !canAutoApply {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("auto-apply requires confidence %.2f for category %s", r.autoApplyThreshold, category))
	}

	if len(eval.Reasons) > 0 {
		eval.Status = domain.PolicyReview
	}
	eval.AllowAutoApply = canAutoApply
	return eval
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Dispatcher — оркестратор событий, как его видит governance.
type Dispatcher interface {
	Enabled() bool
	DispatchEvent(ctx context.Context, e domain.MapEvent) (*domain.MapEvent, error)
}

// TrustReader отдает текущий composite trust score.
type TrustReader interface {
	Score(ctx context.Context) (domain.TrustScore, error)
}

type Engine struct {
	dispatcher Dispatcher
	trust      TrustReader
	capturer   telemetry.Capturer
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

func NewEngine(dispatcher Dispatcher, trust TrustReader, capturer telemetry.Capturer, metrics *telemetry.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		dispatcher: dispatcher,
		trust:      trust,
		capturer:   capturer,
		metrics:    metrics,
		logger:     logger.With(zap.String("mod", "policy")),
	}
}

// NotifyViolation — fire-and-forget алерт во внешнюю телеметрию.
// Для ALLOWED ничего не делает; сбои доставки не роняют вызывающего.
func (e *Engine) NotifyViolation(route string, eval domain.PolicyEvaluation) {
	if eval.Status == domain.PolicyAllowed {
		return
	}
	if e.metrics != nil {
		e.metrics.PolicyDecisions.WithLabelValues(string(eval.Status)).Inc()
	}
	if e.capturer == nil {
		return
	}
	e.capturer.Capture(telemetry.Event{
		Name: "policy.violation",
		Properties: map[string]any{
			"route":    route,
			"status":   string(eval.Status),
			"reasons":  eval.Reasons,
			"category": string(eval.Category),
		},
	})
}

// RecordDecision публикует policy_update событие с решением и текущими
// метриками доверия. Если расчет доверия упал, используется нулевой score
// с warn-логом: решение governance важнее свежести метрик.
func (e *Engine) RecordDecision(ctx context.Context, route string, eval domain.PolicyEvaluation, recommendationID string) error {
	if !e.dispatcher.Enabled() {
		return nil
	}

	score, err := e.trust.Score(ctx)
	if err != nil {
		e.logger.Warn("trust score unavailable, recording decision with zeroed score", zap.Error(err))
		score = domain.ZeroTrustScore()
	}

	if e.metrics != nil {
		e.metrics.PolicyDecisions.WithLabelValues(string(eval.Status)).Inc()
	}

	_, err = e.dispatcher.DispatchEvent(ctx, domain.MapEvent{
		Type:   domain.EventPolicyUpdate,
		Source: domain.RoleGovernance,
		Payload: map[string]any{
			"summary":          fmt.Sprintf("governance decision %s for %s", eval.Status, route),
			"route":            route,
			"status":           string(eval.Status),
			"reasons":          eval.Reasons,
			"allowAutoApply":   eval.AllowAutoApply,
			"recommendationId": recommendationID,
			"trustScore":       score.Score,
			"trustMetrics":     score.Metrics,
		},
	})
	if err != nil {
		return fmt.Errorf("dispatch policy update: %w", err)
	}
	return nil
}
