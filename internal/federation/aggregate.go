package federation

import (
	"math"
	"sort"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// AggregateTrustScores сворачивает снимки тенантов в статистику доверия.
// Пустой набор дает нули без Highest/Lowest.
func AggregateTrustScores(snapshots []domain.FederationSnapshot) domain.TrustAggregate {
	agg := domain.TrustAggregate{Participants: len(snapshots)}
	if len(snapshots) == 0 {
		return agg
	}

	scores := make([]float64, 0, len(snapshots))
	var sum float64
	highest := domain.TenantScore{TenantID: snapshots[0].TenantID, Score: snapshots[0].TrustScore}
	lowest := highest

	for _, s := range snapshots {
		scores = append(scores, float64(s.TrustScore))
		sum += float64(s.TrustScore)
		if s.TrustScore > highest.Score {
			highest = domain.TenantScore{TenantID: s.TenantID, Score: s.TrustScore}
		}
		if s.TrustScore < lowest.Score {
			lowest = domain.TenantScore{TenantID: s.TenantID, Score: s.TrustScore}
		}
	}

	agg.Mean = sum / float64(len(scores))

	sort.Float64s(scores)
	mid := len(scores) / 2
	if len(scores)%2 == 0 {
		agg.Median = (scores[mid-1] + scores[mid]) / 2
	} else {
		agg.Median = scores[mid]
	}

	var variance float64
	for _, v := range scores {
		variance += (v - agg.Mean) * (v - agg.Mean)
	}
	agg.StdDev = math.Sqrt(variance / float64(len(scores)))

	agg.Highest = &highest
	agg.Lowest = &lowest
	return agg
}

// DeriveAggregatedPriorities усредняет веса по агентам. Каждый тенант
// весит одинаково независимо от его доверия.
func DeriveAggregatedPriorities(snapshots []domain.FederationSnapshot) []domain.PriorityWeight {
	type acc struct {
		weight     float64
		confidence float64
		count      int
	}
	byAgent := make(map[domain.AgentRole]*acc)
	order := make([]domain.AgentRole, 0)

	for _, s := range snapshots {
		for _, p := range s.Priorities {
			a, ok := byAgent[p.Agent]
			if !ok {
				a = &acc{}
				byAgent[p.Agent] = a
				order = append(order, p.Agent)
			}
			a.weight += p.Weight
			a.confidence += p.Confidence
			a.count++
		}
	}

	out := make([]domain.PriorityWeight, 0, len(order))
	for _, agent := range order {
		a := byAgent[agent]
		out = append(out, domain.PriorityWeight{
			Agent:      agent,
			Weight:     a.weight / float64(a.count),
			Confidence: a.confidence / float64(a.count),
			Rationale:  "federated average across tenants",
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
