package domain

import "time"

// ScalingState — логическая емкость, выдаваемая нижележащей работе
// (сколько внешних AI-вызовов можно держать параллельно и с каким интервалом
// крутится петля). Это не про потоки самого процесса.
type ScalingState struct {
	Concurrency int `json:"concurrency"` // >= 1
	IntervalMS  int `json:"interval_ms"`
}

// LoopState — состояние конечного автомата петли автономии.
type LoopState string

const (
	LoopDisabled LoopState = "disabled"
	LoopIdle     LoopState = "idle"
	LoopRunning  LoopState = "running"
	LoopPaused   LoopState = "paused"
)

// LoopStateSnapshot — снимок петли, который mapd зеркалит в Redis,
// чтобы Console API мог отвечать на pause/resume без общей памяти.
type LoopStateSnapshot struct {
	State       LoopState `json:"state"`
	Concurrency int       `json:"concurrency"`
	IntervalMS  int       `json:"interval_ms"`
	LastTickAt  time.Time `json:"last_tick_at"`
}
