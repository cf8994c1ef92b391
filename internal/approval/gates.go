// Package approval — гейты автопубликации: когда автономное действие
// можно применить без человека и как учитывается дневная квота.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
)

// Оси экспериментов с особыми порогами.
const (
	AxisCTA      = "cta"
	AxisSchedule = "schedule"
)

const (
	defaultMinSampleSize = 50

	confidenceThresholdDefault  = 0.8
	confidenceThresholdSchedule = 0.75
)

// ActionStore — персистентный аудит примененных действий.
type ActionStore interface {
	InsertAction(ctx context.Context, a domain.AutoAction) error
	UpdateActionStatus(ctx context.Context, id string, status domain.AutoActionStatus, reason string) error
	GetAction(ctx context.Context, id string) (*domain.AutoAction, error)
	CountAppliedSince(ctx context.Context, organizationID, actionType string, since time.Time) (int, error)
}

type Gates struct {
	store      ActionStore
	rdb        *redis.Client
	dailyLimit int
	logger     *zap.Logger
}

func NewGates(store ActionStore, rdb *redis.Client, dailyLimit int, logger *zap.Logger) *Gates {
	if dailyLimit < 0 {
		dailyLimit = 0
	}
	return &Gates{
		store:      store,
		rdb:        rdb,
		dailyLimit: dailyLimit,
		logger:     logger.With(zap.String("mod", "approval")),
	}
}

// Usage считает использование квоты за текущие сутки UTC.
// Пустой organizationId означает нулевую квоту: все через ручное одобрение.
func (g *Gates) Usage(ctx context.Context, organizationID string) (domain.AutoPublishUsage, error) {
	if organizationID == "" {
		return domain.AutoPublishUsage{Used: 0, Remaining: 0, Limit: 0}, nil
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	used, err := g.store.CountAppliedSince(ctx, organizationID, domain.ActionTypeAutoPublish, midnight)
	if err != nil {
		return domain.AutoPublishUsage{}, fmt.Errorf("count applied actions: %w", err)
	}

	remaining := g.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return domain.AutoPublishUsage{Used: used, Remaining: remaining, Limit: g.dailyLimit}, nil
}

// Request — кандидат на автопубликацию.
type Request struct {
	OrganizationID string  `json:"organization_id"`
	Axis           string  `json:"axis"`
	Confidence     float64 `json:"confidence"`
	SampleSize     int     `json:"sample_size"`
	HighStakes     bool    `json:"high_stakes"`
	MinSampleSize  int     `json:"min_sample_size,omitempty"`
}

// Evaluate — упорядоченная цепочка вето. Оценка только читает состояние:
// фактическое списание квоты делает ReserveQuota при записи действия.
func (g *Gates) Evaluate(ctx context.Context, req Request) (domain.AutoPublishEvaluation, error) {
	eval := domain.AutoPublishEvaluation{
		Decision: domain.DecisionNeedsApproval,
		Reasons:  []string{},
	}

	if req.OrganizationID == "" {
		eval.Reasons = append(eval.Reasons, "no organization context, auto-publish is disabled")
		return eval, nil
	}

	usage, err := g.Usage(ctx, req.OrganizationID)
	if err != nil {
		return domain.AutoPublishEvaluation{}, err
	}
	eval.QuotaRemaining = usage.Remaining

	if usage.Remaining <= 0 {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("daily auto-publish quota exhausted (%d/%d)", usage.Used, usage.Limit))
		return eval, nil
	}

	if req.HighStakes && strings.EqualFold(req.Axis, AxisCTA) {
		eval.Reasons = append(eval.Reasons, "CTA changes are never auto-applied under high stakes")
		return eval, nil
	}

	minSample := req.MinSampleSize
	if minSample <= 0 {
		minSample = defaultMinSampleSize
	}
	if req.SampleSize < minSample {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("sample size %d is below the minimum %d", req.SampleSize, minSample))
		return eval, nil
	}

	threshold := confidenceThresholdDefault
	if strings.EqualFold(req.Axis, AxisSchedule) {
		threshold = confidenceThresholdSchedule
	}
	if req.Confidence < threshold {
		eval.Reasons = append(eval.Reasons,
			fmt.Sprintf("confidence %.2f is below the %.2f threshold for axis %s", req.Confidence, threshold, req.Axis))
		return eval, nil
	}

	eval.Decision = domain.DecisionAuto
	eval.QuotaRemaining = usage.Remaining - 1
	return eval, nil
}

// ReserveQuota атомарно списывает одну единицу дневной квоты через INCR.
// Если счетчик перевалил лимит, резервация откатывается DECR-ом: два
// конкурирующих процесса не смогут потратить последнюю единицу дважды.
func (g *Gates) ReserveQuota(ctx context.Context, organizationID string) (bool, error) {
	if organizationID == "" || g.dailyLimit <= 0 {
		return false, nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	key := infra.AutoPublishQuotaKey(organizationID, day)

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("reserve quota: %w", err)
	}
	if count == 1 {
		// Первый за сутки: ключ живет до конца дня с запасом
		g.rdb.Expire(ctx, key, 36*time.Hour)
	}

	if count > int64(g.dailyLimit) {
		g.rdb.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// LogAutoAction пишет аудит-запись примененного действия.
func (g *Gates) LogAutoAction(ctx context.Context, a domain.AutoAction) (domain.AutoAction, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ActionType == "" {
		a.ActionType = domain.ActionTypeAutoPublish
	}
	if a.Status == "" {
		a.Status = domain.ActionApplied
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := g.store.InsertAction(ctx, a); err != nil {
		return domain.AutoAction{}, fmt.Errorf("log auto action: %w", err)
	}

	g.logger.Info("auto action logged",
		zap.String("action_id", a.ID),
		zap.String("org", a.OrganizationID),
		zap.String("type", a.ActionType),
	)
	return a, nil
}

// MarkReverted переводит существующее действие в reverted.
// Откат разрешен всегда и успешен для любого существующего id.
func (g *Gates) MarkReverted(ctx context.Context, actionID, reason string) error {
	if err := g.store.UpdateActionStatus(ctx, actionID, domain.ActionReverted, reason); err != nil {
		return err
	}
	g.logger.Info("auto action reverted",
		zap.String("action_id", actionID),
		zap.String("reason", reason),
	)
	return nil
}
