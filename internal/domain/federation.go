package domain

import "time"

// FederationSnapshot — санитизированный снимок состояния одного тенанта.
// По каждому тенанту хранится ровно один снимок (latest-wins).
type FederationSnapshot struct {
	TenantID      string           `json:"tenant_id"`
	TrustScore    int              `json:"trust_score"`
	SyncLatencyMS int64            `json:"sync_latency_ms"`
	Priorities    []PriorityWeight `json:"priorities"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// FederationEvent — подписанный конверт межтенантного события.
// Подпись — HMAC над канонической сериализацией (type, tenant_id, timestamp,
// payload) общим секретом. Потребитель обязан отвергнуть конверт при
// несовпадении подписи: это граница доверия.
type FederationEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Signature string         `json:"signature"`
	Payload   map[string]any `json:"payload"`
}

// TenantScore — пара "тенант и его trust score" для агрегатов.
type TenantScore struct {
	TenantID string `json:"tenant_id"`
	Score    int    `json:"score"`
}

// TrustAggregate — статистическая свертка trust score по тенантам.
// Для пустого набора все значения нулевые, Highest/Lowest — nil.
type TrustAggregate struct {
	Participants int          `json:"participants"`
	Mean         float64      `json:"mean"`
	Median       float64      `json:"median"`
	StdDev       float64      `json:"std_dev"`
	Highest      *TenantScore `json:"highest,omitempty"`
	Lowest       *TenantScore `json:"lowest,omitempty"`
}

// NetworkHealth — классификация здоровья сети федерации.
type NetworkHealth string

const (
	NetworkHealthy  NetworkHealth = "healthy"
	NetworkDegraded NetworkHealth = "degraded"
	NetworkCritical NetworkHealth = "critical"
)

// GlobalInsight — результат анализа набора снимков федерации.
type GlobalInsight struct {
	NetworkHealth NetworkHealth    `json:"network_health"`
	Participants  int              `json:"participants"`
	AverageTrust  float64          `json:"average_trust"`
	StdDev        float64          `json:"std_dev"`
	TopPriorities []PriorityWeight `json:"top_priorities"`
	Summary       string           `json:"summary"`
}

// EndpointHealth — флаг здоровья одного peer-эндпоинта шины.
type EndpointHealth struct {
	Endpoint string `json:"endpoint"`
	Healthy  bool   `json:"healthy"`
}

// FederationStatus — видимое состояние шины федерации.
type FederationStatus struct {
	TenantID     string            `json:"tenant_id"`
	Endpoints    []string          `json:"endpoints"`
	Connections  []EndpointHealth  `json:"connections"`
	RecentEvents []FederationEvent `json:"recent_events"`
}

// FederationMetricsRecord — rollup-строка метрик федерации.
// Ключ (cycle_id, tenant_id): повторная запись того же цикла перезаписывает,
// а не дублирует.
type FederationMetricsRecord struct {
	CycleID       string        `json:"cycle_id"`
	TenantID      string        `json:"tenant_id"`
	NetworkHealth NetworkHealth `json:"network_health"`
	Participants  int           `json:"participants"`
	AverageTrust  float64       `json:"average_trust"`
	StdDev        float64       `json:"std_dev"`
	Summary       string        `json:"summary"`
	CreatedAt     time.Time     `json:"created_at"`
}
