package domain

import "time"

// EventType — вариант сообщения протокола MAP.
type EventType string

const (
	EventRecommendation EventType = "recommendation"
	EventEvaluation     EventType = "evaluation"
	EventPolicyUpdate   EventType = "policy_update"
	EventInsightReport  EventType = "insight_report"
	EventTelemetrySync  EventType = "telemetry_sync"
)

// IsValid проверяет принадлежность типа к известным вариантам протокола.
func (t EventType) IsValid() bool {
	switch t {
	case EventRecommendation, EventEvaluation, EventPolicyUpdate,
		EventInsightReport, EventTelemetrySync:
		return true
	}
	return false
}

// Статусы оценки рекомендации внутри payload события evaluation.
const (
	EvaluationApproved    = "approved"
	EvaluationNeedsReview = "needs_review"
	EvaluationRejected    = "rejected"
)

// MapEvent — неизменяемая запись одного межагентного сообщения.
// Payload хранится как свободная структура (JSONB в Postgres): набор полей
// зависит от типа события, но "summary" обязателен для каждого варианта.
type MapEvent struct {
	ID      string    `json:"id"`
	TraceID string    `json:"trace_id"`
	Type    EventType `json:"type"`
	Source  AgentRole `json:"source"`
	Target  AgentRole `json:"target,omitempty"`

	// Priority: nil — «не задан», при валидации проставляется базовый
	// приоритет роли источника. Явный 0 остается нулем.
	Priority *int `json:"priority,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Payload map[string]any `json:"payload"`
}

// PriorityValue — числовой приоритет события (0, если не проставлен).
func (e MapEvent) PriorityValue() int {
	if e.Priority == nil {
		return 0
	}
	return *e.Priority
}

// Summary возвращает обязательную человекочитаемую сводку события.
func (e MapEvent) Summary() string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["summary"].(string)
	return s
}

// PayloadString достает строковое поле из payload (пустая строка, если нет).
func (e MapEvent) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// ConflictResolution — результат разбора конкурирующих событий одного trace_id.
type ConflictResolution struct {
	TraceID    string   `json:"trace_id"`
	Winner     MapEvent `json:"winner"`
	Contenders int      `json:"contenders"`
}

// OrchestratorSnapshot — текущее состояние оркестратора для снапшот-запросов.
// При выключенной оркестрации отдается только статический реестр.
type OrchestratorSnapshot struct {
	Enabled     bool                 `json:"enabled"`
	Agents      []AgentRegistration  `json:"agents"`
	Events      []MapEvent           `json:"events"`
	Conflicts   []ConflictResolution `json:"conflicts"`
	LastUpdated time.Time            `json:"last_updated"`
}
