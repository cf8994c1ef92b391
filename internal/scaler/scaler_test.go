package scaler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

func TestEvaluateScaleUp(t *testing.T) {
	d := Evaluate(
		Telemetry{BacklogSize: 80, AvgLatencyMS: 1200, TrustScore: 70, SuccessRate: 0.8},
		domain.ScalingState{Concurrency: 1, IntervalMS: 300_000},
	)

	assert.Equal(t, StatusScaleUp, d.Status)
	assert.Greater(t, d.State.Concurrency, 1)
	assert.Less(t, d.State.IntervalMS, 300_000)
	assert.Equal(t, 80, d.BacklogSize)
}

func TestEvaluateScaleDown(t *testing.T) {
	d := Evaluate(
		Telemetry{BacklogSize: 0, AvgLatencyMS: 40, TrustScore: 95, SuccessRate: 0.98},
		domain.ScalingState{Concurrency: 3, IntervalMS: 120_000},
	)

	assert.Equal(t, StatusScaleDown, d.Status)
	assert.Less(t, d.State.Concurrency, 3)
	assert.Greater(t, d.State.IntervalMS, 120_000)
}

func TestEvaluateHold(t *testing.T) {
	current := domain.ScalingState{Concurrency: 2, IntervalMS: 300_000}
	d := Evaluate(Telemetry{BacklogSize: 10, AvgLatencyMS: 400, TrustScore: 70, SuccessRate: 0.8}, current)

	assert.Equal(t, StatusHold, d.Status)
	assert.Equal(t, current, d.State)
}

func TestEvaluateHoldsWithoutBothUpConditions(t *testing.T) {
	current := domain.ScalingState{Concurrency: 1, IntervalMS: 300_000}

	// Большой бэклог, но задержка в норме: не масштабируемся
	d := Evaluate(Telemetry{BacklogSize: 80, AvgLatencyMS: 100}, current)
	assert.Equal(t, StatusHold, d.Status)

	// Большая задержка, но бэклог пуст и доверие низкое: тоже hold
	d = Evaluate(Telemetry{BacklogSize: 0, AvgLatencyMS: 1500, TrustScore: 40}, current)
	assert.Equal(t, StatusHold, d.Status)
}

func TestEvaluateClampsBounds(t *testing.T) {
	// Уже на потолке: scale_up не должен выйти за границы
	d := Evaluate(
		Telemetry{BacklogSize: 100, AvgLatencyMS: 2000},
		domain.ScalingState{Concurrency: MaxConcurrency, IntervalMS: MinIntervalMS},
	)
	assert.Equal(t, MaxConcurrency, d.State.Concurrency)
	assert.Equal(t, MinIntervalMS, d.State.IntervalMS)

	// Уже на полу: scale_down упирается в 1 и в максимальный интервал
	d = Evaluate(
		Telemetry{BacklogSize: 0, AvgLatencyMS: 10, TrustScore: 99, SuccessRate: 1},
		domain.ScalingState{Concurrency: MinConcurrency, IntervalMS: MaxIntervalMS},
	)
	assert.Equal(t, MinConcurrency, d.State.Concurrency)
	assert.Equal(t, MaxIntervalMS, d.State.IntervalMS)
}

func TestEvaluateNormalizesBrokenState(t *testing.T) {
	d := Evaluate(Telemetry{}, domain.ScalingState{Concurrency: 0, IntervalMS: 5})
	assert.GreaterOrEqual(t, d.State.Concurrency, MinConcurrency)
	assert.GreaterOrEqual(t, d.State.IntervalMS, MinIntervalMS)
}

func TestDescribe(t *testing.T) {
	d := Evaluate(
		Telemetry{BacklogSize: 80, AvgLatencyMS: 1200},
		domain.ScalingState{Concurrency: 1, IntervalMS: 300_000},
	)

	s := Describe(d)
	assert.Contains(t, s, "SCALE_UP")
	assert.True(t, strings.Contains(s, "interval"))
}
