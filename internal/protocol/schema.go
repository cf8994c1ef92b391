// Package protocol определяет схему событий MAP (Multi-Agent Protocol):
// валидацию конвертов, базовые приоритеты ролей и детерминированный
// порядок governance-сортировки, на котором построено разрешение конфликтов.
package protocol

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Базовые приоритеты ролей. Governance всегда выше остальных — это
// tie-break при разборе конкурирующих событий.
var basePriorities = map[domain.AgentRole]int{
	domain.RoleGovernance: 90,
	domain.RoleOptimizer:  70,
	domain.RoleLearning:   60,
	domain.RoleInsight:    50,
	domain.RoleFederation: 40,
}

const (
	MinPriority = 0
	MaxPriority = 100
)

// ValidationError — отказ схемы до какой-либо персистентности.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid event field %q: %s", e.Field, e.Reason)
}

// BasePriority возвращает базовый приоритет роли (0 для неизвестной).
func BasePriority(role domain.AgentRole) int {
	return basePriorities[role]
}

// EnsurePriority нормализует приоритет события: nil — базовый приоритет
// роли, иначе значение зажимается в [0, 100].
func EnsurePriority(role domain.AgentRole, raw *int) int {
	if raw == nil {
		return basePriorities[role]
	}
	p := *raw
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ParseEvent валидирует конверт и возвращает нормализованное событие:
// проставленный id, timestamp и зажатый приоритет. Любое нарушение схемы —
// ошибка ДО записи, ничего не персистится.
func ParseEvent(candidate domain.MapEvent) (domain.MapEvent, error) {
	if !candidate.Type.IsValid() {
		return domain.MapEvent{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", candidate.Type)}
	}
	if !candidate.Source.IsValid() {
		return domain.MapEvent{}, &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown agent role %q", candidate.Source)}
	}
	if candidate.Target != "" && !candidate.Target.IsValid() {
		return domain.MapEvent{}, &ValidationError{Field: "target", Reason: fmt.Sprintf("unknown agent role %q", candidate.Target)}
	}
	// summary обязателен для каждого варианта payload
	if candidate.Summary() == "" {
		return domain.MapEvent{}, &ValidationError{Field: "payload.summary", Reason: "required on every payload variant"}
	}

	out := candidate
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}

	p := EnsurePriority(out.Source, candidate.Priority)
	out.Priority = &p

	return out, nil
}

// SortByGovernance возвращает копию событий в детерминированном порядке:
// приоритет по убыванию, затем базовый приоритет роли источника
// (governance первым), затем timestamp по возрастанию (раньше — выше).
// Порядок не зависит от порядка поступления событий.
func SortByGovernance(events []domain.MapEvent) []domain.MapEvent {
	sorted := make([]domain.MapEvent, len(events))
	copy(sorted, events)

	sort.SliceStable(sorted, func(i, j int) bool {
		pi := EnsurePriority(sorted[i].Source, sorted[i].Priority)
		pj := EnsurePriority(sorted[j].Source, sorted[j].Priority)
		if pi != pj {
			return pi > pj
		}
		bi, bj := basePriorities[sorted[i].Source], basePriorities[sorted[j].Source]
		if bi != bj {
			return bi > bj
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return sorted
}
