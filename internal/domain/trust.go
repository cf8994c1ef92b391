package domain

// TrustCounts — сырые счетчики исходов из хранилища.
type TrustCounts struct {
	Total            int64 `json:"total"`
	Applied          int64 `json:"applied"`
	RolledBack       int64 `json:"rolled_back"`
	PolicyViolations int64 `json:"policy_violations"`
}

// TrustMetrics — производные показатели доверия.
// Деление на ноль не допускается: при отсутствии данных каждая ставка равна 0.
type TrustMetrics struct {
	SuccessRate          float64 `json:"success_rate"`
	RollbackRate         float64 `json:"rollback_rate"`
	PolicyViolationRate  float64 `json:"policy_violation_rate"`
	TotalRecommendations int64   `json:"total_recommendations"`
	Applied              int64   `json:"applied"`
	Violations           int64   `json:"violations"`
}

// TrustScore — свертка истории исходов в единую метрику доверия 0-100.
// Не хранится отдельной строкой: пересчитывается из счетчиков по запросу.
type TrustScore struct {
	Score   int          `json:"score"`
	Metrics TrustMetrics `json:"metrics"`
}

// ZeroTrustScore — консервативный fallback, когда расчет доверия недоступен.
func ZeroTrustScore() TrustScore {
	return TrustScore{Score: 0, Metrics: TrustMetrics{}}
}
