package domain

import "time"

// AgentRole — роль логического агента в протоколе MAP (Multi-Agent Protocol).
type AgentRole string

const (
	RoleOptimizer  AgentRole = "optimizer"
	RoleLearning   AgentRole = "learning"
	RoleGovernance AgentRole = "governance"
	RoleInsight    AgentRole = "insight"
	RoleFederation AgentRole = "federation"
)

// IsValid проверяет, что роль входит в известный набор.
// Неизвестная роль — это протокольная ошибка, а не "еще один агент" (Zero Trust).
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleOptimizer, RoleLearning, RoleGovernance, RoleInsight, RoleFederation:
		return true
	}
	return false
}

// AgentRegistration — идентичность агента в реестре оркестратора.
// Создается один раз при старте процесса; повторная регистрация того же
// agent_id обновляет метаданные, не создавая дубликатов.
type AgentRegistration struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Capabilities []string  `json:"capabilities"`
	Priority     int       `json:"priority"`
	StreamKey    string    `json:"stream_key"`
	RegisteredAt time.Time `json:"registered_at"`
}
