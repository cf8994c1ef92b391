package domain

import "time"

// PriorityWeight — вычисленный относительный вес агента.
// Пересчитывается на каждом тике петли автономии и сохраняется upsert-ом
// по ключу agent.
type PriorityWeight struct {
	Agent      AgentRole `json:"agent"`
	Weight     float64   `json:"weight"`     // [0,1], сумма по всем агентам = 1.0
	Confidence float64   `json:"confidence"` // [0,1]
	Rationale  string    `json:"rationale"`
	UpdatedAt  time.Time `json:"updated_at"`
}
