// Package scaler — чистая функция перехода: телеметрия -> решение
// о логической емкости контура (concurrency + интервал тика).
package scaler

import (
	"fmt"
	"strings"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Границы емкости. Интервал делит границы с адаптивным расчетом петли.
const (
	MinConcurrency = 1
	MaxConcurrency = 8

	MinIntervalMS = 60_000
	MaxIntervalMS = 900_000

	intervalStepMS = 60_000
)

// Пороги перехода. Масштабирование вверх требует одновременно большого
// бэклога и высокой задержки; вниз — пустого бэклога, низкой задержки
// и здоровых trust/success.
const (
	scaleUpBacklog   = 25
	scaleUpLatencyMS = 800

	scaleDownBacklog   = 2
	scaleDownLatencyMS = 100
	scaleDownTrust     = 85
	scaleDownSuccess   = 0.9
)

type Status string

const (
	StatusScaleUp   Status = "scale_up"
	StatusScaleDown Status = "scale_down"
	StatusHold      Status = "hold"
)

// Telemetry — вход решения за один тик.
type Telemetry struct {
	BacklogSize  int     `json:"backlog_size"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TrustScore   int     `json:"trust_score"`
	SuccessRate  float64 `json:"success_rate"`
}

// Decision — итог перехода с обоснованием.
type Decision struct {
	State        domain.ScalingState `json:"state"`
	Status       Status              `json:"status"`
	Reason       string              `json:"reason"`
	BacklogSize  int                 `json:"backlog_size"`
	AvgLatencyMS float64             `json:"avg_latency_ms"`
}

// Evaluate — чистая функция перехода. Concurrency всегда в [1, MaxConcurrency],
// интервал всегда в [MinIntervalMS, MaxIntervalMS].
func Evaluate(t Telemetry, current domain.ScalingState) Decision {
	next := domain.ScalingState{
		Concurrency: clampInt(current.Concurrency, MinConcurrency, MaxConcurrency),
		IntervalMS:  clampInt(current.IntervalMS, MinIntervalMS, MaxIntervalMS),
	}

	d := Decision{
		Status:       StatusHold,
		Reason:       "telemetry within nominal bounds",
		BacklogSize:  t.BacklogSize,
		AvgLatencyMS: t.AvgLatencyMS,
	}

	switch {
	case t.BacklogSize >= scaleUpBacklog && t.AvgLatencyMS >= scaleUpLatencyMS:
		next.Concurrency = clampInt(next.Concurrency+1, MinConcurrency, MaxConcurrency)
		next.IntervalMS = clampInt(next.IntervalMS-intervalStepMS, MinIntervalMS, MaxIntervalMS)
		d.Status = StatusScaleUp
		d.Reason = fmt.Sprintf("backlog %d with avg latency %.0fms exceeds capacity", t.BacklogSize, t.AvgLatencyMS)

	case t.BacklogSize <= scaleDownBacklog &&
		t.AvgLatencyMS <= scaleDownLatencyMS &&
		t.TrustScore >= scaleDownTrust &&
		t.SuccessRate >= scaleDownSuccess:
		next.Concurrency = clampInt(next.Concurrency-1, MinConcurrency, MaxConcurrency)
		next.IntervalMS = clampInt(next.IntervalMS+intervalStepMS, MinIntervalMS, MaxIntervalMS)
		d.Status = StatusScaleDown
		d.Reason = fmt.Sprintf("idle pipeline with trust %d, releasing capacity", t.TrustScore)
	}

	d.State = next
	return d
}

// Describe форматирует решение для лога: статус в верхнем регистре плюс
// итоговые емкость и интервал.
func Describe(d Decision) string {
	return fmt.Sprintf("scaling %s: concurrency=%d interval=%dms (%s)",
		strings.ToUpper(string(d.Status)), d.State.Concurrency, d.State.IntervalMS, d.Reason)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
