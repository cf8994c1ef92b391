package federation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Пороги здоровья сети. Разброс доверия важен не меньше среднего:
// сеть с одним идеальным и одним лежащим тенантом не здорова.
const (
	healthyAvgTrust = 80.0
	healthyStdDev   = 12.0

	degradedAvgTrust = 60.0
	degradedStdDev   = 20.0
)

// AnalyzeGlobalFederation классифицирует сеть по набору снимков.
// Ноль участников — всегда critical.
func AnalyzeGlobalFederation(snapshots []domain.FederationSnapshot) domain.GlobalInsight {
	agg := AggregateTrustScores(snapshots)
	priorities := DeriveAggregatedPriorities(snapshots)

	top := priorities
	if len(top) > 3 {
		top = top[:3]
	}

	insight := domain.GlobalInsight{
		Participants:  agg.Participants,
		AverageTrust:  agg.Mean,
		StdDev:        agg.StdDev,
		TopPriorities: top,
	}

	switch {
	case agg.Participants == 0:
		insight.NetworkHealth = domain.NetworkCritical
	case agg.Mean >= healthyAvgTrust && agg.StdDev <= healthyStdDev:
		insight.NetworkHealth = domain.NetworkHealthy
	case agg.Mean >= degradedAvgTrust && agg.StdDev <= degradedStdDev:
		insight.NetworkHealth = domain.NetworkDegraded
	default:
		insight.NetworkHealth = domain.NetworkCritical
	}

	insight.Summary = buildSummary(insight)
	return insight
}

func buildSummary(insight domain.GlobalInsight) string {
	if insight.Participants == 0 {
		return "Federation network is critical: no participants reported telemetry"
	}

	parts := make([]string, 0, 3)
	for _, p := range insight.TopPriorities {
		parts = append(parts, fmt.Sprintf("%s %.2f", p.Agent, p.Weight))
	}
	focus := "no aggregated priorities"
	if len(parts) > 0 {
		focus = "top priorities: " + strings.Join(parts, ", ")
	}

	return fmt.Sprintf("Federation network is %s across %d tenants (avg trust %.1f, stddev %.1f); %s",
		insight.NetworkHealth, insight.Participants, insight.AverageTrust, insight.StdDev, focus)
}

// MetricsStore — rollup-хранилище метрик федерации.
type MetricsStore interface {
	UpsertFederationMetrics(ctx context.Context, rec domain.FederationMetricsRecord) error
}

// RecordFederationMetrics пишет rollup-строку цикла. Повторная запись
// того же (cycleId, tenantId) перезаписывает, а не дублирует.
func RecordFederationMetrics(ctx context.Context, store MetricsStore, cycleID, tenantID string, insight domain.GlobalInsight) error {
	return store.UpsertFederationMetrics(ctx, domain.FederationMetricsRecord{
		CycleID:       cycleID,
		TenantID:      tenantID,
		NetworkHealth: insight.NetworkHealth,
		Participants:  insight.Participants,
		AverageTrust:  insight.AverageTrust,
		StdDev:        insight.StdDev,
		Summary:       insight.Summary,
		CreatedAt:     time.Now().UTC(),
	})
}
