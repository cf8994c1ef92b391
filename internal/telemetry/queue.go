package telemetry

/*
Файл queue.go реализует неблокирующий конвейер внешней телеметрии и алертов.

Ключевые особенности архитектуры:
- Non-blocking Capture: события уходят из Hot Path через буферизованный
  канал; задержки доставки (webhook, БД) не влияют на Response Time.
- Batching: накопление событий в памяти и пакетная доставка по таймеру
  или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке канал "запирается",
  воркер вычитывает остатки и делает финальный flush — события не теряются
  при перезагрузке.
- Load Shedding: при переполненном буфере событие не блокирует вызывающего,
  а фиксируется как потерянное в обычном логе и метрике.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event — одно событие телеметрии или алерт для внешнего коллаборатора.
type Event struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink определяет, куда физически доставляется пачка событий.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

// Capturer — контракт fire-and-forget отправки для вызывающих компонентов.
type Capturer interface {
	Capture(event Event)
}

const (
	batchLimit    = 100
	flushInterval = 500 * time.Millisecond
)

type Queue struct {
	ch      chan Event
	sink    Sink
	logger  *zap.Logger
	metrics *Metrics
	wg      sync.WaitGroup
	// Защита от Capture после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewQueue(sink Sink, bufferSize int, metrics *Metrics, logger *zap.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 10_000
	}
	return &Queue{
		ch:      make(chan Event, bufferSize),
		sink:    sink,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "telemetry")),
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop "запирает" вход в канал и ждет, пока воркер всё допишет.
func (q *Queue) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&q.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Capture успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Закрываем канал (Drain Pattern): воркер вычитает остатки и выйдет
	q.logger.Info("stopping telemetry queue: closing channel and flushing buffer...")
	close(q.ch)
	q.wg.Wait()
	q.logger.Info("telemetry queue stopped gracefully")
}

// Capture отправляет событие, никогда не блокируя и не возвращая ошибок:
// сбой доставки телеметрии не должен ронять бизнес-операцию.
func (q *Queue) Capture(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&q.isClosed) == 1 {
		q.logger.Warn("telemetry event dropped: queue is stopping", zap.String("name", event.Name))
		return
	}

	select {
	case q.ch <- event:
		if q.metrics != nil {
			q.metrics.TelemetryQueueFill.Set(float64(len(q.ch)))
		}
	default:
		// Буфер переполнен (Backpressure): сбрасываем нагрузку,
		// фиксируя потерю в обычном логе
		q.logger.Error("telemetry_buffer_overflow",
			zap.String("name", event.Name),
			zap.String("trace_id", event.TraceID),
		)
		if q.metrics != nil {
			q.metrics.TelemetryDropped.Inc()
		}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	batch := make([]Event, 0, batchLimit)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст процесса может быть уже закрыт
			if err := q.sink.Deliver(context.Background(), batch); err != nil {
				q.logger.Error("telemetry flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
		if q.metrics != nil {
			q.metrics.TelemetryQueueFill.Set(float64(len(q.ch)))
		}
	}

	for {
		select {
		case event, ok := <-q.ch:
			if !ok {
				// Канал закрыт в Stop(): финальный сброс и выход
				flush()
				q.logger.Info("telemetry worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
