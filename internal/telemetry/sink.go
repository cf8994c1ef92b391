package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ThrottleError возвращается, когда приемник явно просит подождать
// (HTTP 429 с заголовком Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// WebhookSink доставляет пачки событий во внешний HTTP-endpoint.
// Обернут в Circuit Breaker, Rate Limiter и ретраи: падение коллаборатора
// не должно выжигать воркер телеметрии.
type WebhookSink struct {
	url     string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewWebhookSink(url string) *WebhookSink {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemetry-webhook",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	// Лимитер: пачки уходят не чаще 10 раз в секунду
	limiter := rate.NewLimiter(rate.Limit(10), 5)

	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		cb:      cb,
		limiter: limiter,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, events []Event) error {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	// 2. Circuit Breaker
	_, err = s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Приемник прислал Retry-After — уважаем его
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return s.post(tCtx, body)
		})

		return nil, retryErr
	})

	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Вычитываем тело, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := 5 * time.Second
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, parseErr := strconv.Atoi(raw); parseErr == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{RetryAfter: delay, Cause: fmt.Errorf("webhook responded 429")}
	case resp.StatusCode >= 400:
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// NoopSink молча глотает события. Используется, когда webhook не сконфигурирован
// и телеметрия пишется только в БД.
type NoopSink struct{}

func (NoopSink) Deliver(context.Context, []Event) error { return nil }

// MultiSink рассылает пачку всем приемникам. Ошибки собираются,
// но первый сбой не прерывает доставку остальным.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Deliver(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
