package domain

import (
	"errors"
	"time"
)

// AutoActionStatus — жизненный цикл автономного действия.
// applied -> reverted по ручному или автоматическому откату; записи
// никогда не удаляются физически (Audit Trail).
type AutoActionStatus string

const (
	ActionApplied  AutoActionStatus = "applied"
	ActionReverted AutoActionStatus = "reverted"
	ActionFailed   AutoActionStatus = "failed"
)

// Типы автономных действий.
const (
	ActionTypeAutoPublish = "AUTOPUBLISH"
)

var (
	ErrActionNotFound = errors.New("auto action not found")
)

// AutoAction — персистентная аудит-запись примененного действия.
type AutoAction struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	ActionType     string           `json:"action_type"`
	ContentID      string           `json:"content_id,omitempty"`
	ExperimentID   string           `json:"experiment_id,omitempty"`
	VariantID      string           `json:"variant_id,omitempty"`
	Reason         string           `json:"reason"`
	Confidence     float64          `json:"confidence"`
	Status         AutoActionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AutoPublishUsage — учет дневной квоты автопубликаций организации.
// Сутки считаются по UTC.
type AutoPublishUsage struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// Решения гейта автопубликации.
const (
	DecisionAuto          = "auto"
	DecisionNeedsApproval = "needs_approval"
)

// AutoPublishEvaluation — вердикт гейта плюс учет квоты.
// Сама оценка состояния не меняет: резервирование квоты — отдельный
// атомарный шаг на стороне вызывающего.
type AutoPublishEvaluation struct {
	Decision       string   `json:"decision"` // auto | needs_approval
	Reasons        []string `json:"reasons"`
	QuotaRemaining int      `json:"quota_remaining"`
}

// Статусы журнала оптимизаций (для сервиса отката).
const (
	OptimizationApplied  = "APPLIED"
	OptimizationRejected = "REJECTED"
)

// OptimizationLog — примененная оптимизация, подлежащая пакетной переоценке.
type OptimizationLog struct {
	ID        string    `json:"id"`
	Route     string    `json:"route"`
	Status    string    `json:"status"`
	Rollback  bool      `json:"rollback"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RollbackResult — исход отката одной записи журнала.
type RollbackResult struct {
	LogID    string `json:"log_id"`
	Status   string `json:"status"`
	Rollback bool   `json:"rollback"`
	Message  string `json:"message"`
}
