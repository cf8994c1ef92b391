package domain

import "time"

// RecoveryAction — решение агента восстановления.
type RecoveryAction string

const (
	RecoveryRollback   RecoveryAction = "rollback"
	RecoveryReevaluate RecoveryAction = "reevaluate"
	RecoveryNoop       RecoveryAction = "noop"
)

// RecoveryLogEntry — append-only запись о решении восстановления.
type RecoveryLogEntry struct {
	ID               string         `json:"id"`
	Agent            AgentRole      `json:"agent"`
	Action           RecoveryAction `json:"action"`
	Reason           string         `json:"reason"`
	TrustScoreBefore int            `json:"trust_score_before"`
	TrustScoreAfter  int            `json:"trust_score_after"`
	TraceID          string         `json:"trace_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
