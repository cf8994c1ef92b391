package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

const recentEventsCap = 50

// Handler — локальный подписчик на тип события.
type Handler func(ctx context.Context, event domain.FederationEvent)

// Bus — шина федерации: синхронный локальный fan-out подписчикам плюс
// fire-and-forget рассылка подписанных событий peer-эндпоинтам.
// Рассылка без ретраев: упавший peer помечается нездоровым и догонит
// состояние на следующем цикле broadcast-а.
type Bus struct {
	tenantID  string
	secret    string
	endpoints []string
	token     string
	client    *http.Client
	metrics   *telemetry.Metrics
	logger    *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler
	health      map[string]bool
	recent      []domain.FederationEvent
}

func NewBus(tenantID, secret string, endpoints []string, token string, metrics *telemetry.Metrics, logger *zap.Logger) *Bus {
	health := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		health[ep] = false
	}
	return &Bus{
		tenantID:    tenantID,
		secret:      secret,
		endpoints:   endpoints,
		token:       token,
		client:      &http.Client{Timeout: 5 * time.Second},
		metrics:     metrics,
		logger:      logger.With(zap.String("mod", "federation.bus")),
		subscribers: make(map[string][]Handler),
		health:      health,
	}
}

// Subscribe регистрирует локального подписчика на тип события.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
}

// Publish подписывает черновик, синхронно оповещает локальных подписчиков
// и асинхронно рассылает конверт всем peer-ам. Сбой отдельного peer-а
// не прерывает публикацию и не трогает остальных.
func (b *Bus) Publish(ctx context.Context, draft domain.FederationEvent) (domain.FederationEvent, error) {
	event := draft
	event.ID = uuid.NewString()
	event.TenantID = b.tenantID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	signature, err := Sign(event, b.secret)
	if err != nil {
		return domain.FederationEvent{}, err
	}
	event.Signature = signature

	b.notify(ctx, event)
	b.remember(event)

	for _, endpoint := range b.endpoints {
		go b.deliver(endpoint, event)
	}
	return event, nil
}

// Ingest принимает конверт извне. Несовпадение подписи отклоняет событие
// до любых побочных эффектов.
func (b *Bus) Ingest(ctx context.Context, event domain.FederationEvent) error {
	if err := Verify(event, b.secret); err != nil {
		b.logger.Warn("federation event rejected",
			zap.String("tenant", event.TenantID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return err
	}

	b.notify(ctx, event)
	b.remember(event)
	return nil
}

// CheckConnections проверяет здоровье каждого peer-а легким запросом.
// Сбой отдельной пробы не является ошибкой вызова.
func (b *Bus) CheckConnections(ctx context.Context) []domain.EndpointHealth {
	out := make([]domain.EndpointHealth, 0, len(b.endpoints))
	healthy := 0

	for _, endpoint := range b.endpoints {
		ok := b.probe(ctx, endpoint)
		b.mu.Lock()
		b.health[endpoint] = ok
		b.mu.Unlock()

		if ok {
			healthy++
		}
		out = append(out, domain.EndpointHealth{Endpoint: endpoint, Healthy: ok})
	}

	if b.metrics != nil {
		b.metrics.FederationHealthyPeers.Set(float64(healthy))
	}
	return out
}

// Status возвращает видимое состояние шины.
func (b *Bus) Status() domain.FederationStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	connections := make([]domain.EndpointHealth, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		connections = append(connections, domain.EndpointHealth{Endpoint: ep, Healthy: b.health[ep]})
	}

	recent := make([]domain.FederationEvent, len(b.recent))
	copy(recent, b.recent)

	return domain.FederationStatus{
		TenantID:     b.tenantID,
		Endpoints:    append([]string(nil), b.endpoints...),
		Connections:  connections,
		RecentEvents: recent,
	}
}

func (b *Bus) notify(ctx context.Context, event domain.FederationEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}

// remember кладет событие в ограниченный буфер последних событий.
func (b *Bus) remember(event domain.FederationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, event)
	if len(b.recent) > recentEventsCap {
		b.recent = b.recent[len(b.recent)-recentEventsCap:]
	}
}

func (b *Bus) deliver(endpoint string, event domain.FederationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("federation event marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/federation/events", bytes.NewReader(body))
	if err != nil {
		b.markUnhealthy(endpoint, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.markUnhealthy(endpoint, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		b.markUnhealthy(endpoint, fmt.Errorf("peer responded %d", resp.StatusCode))
		return
	}

	b.mu.Lock()
	b.health[endpoint] = true
	b.mu.Unlock()
}

func (b *Bus) markUnhealthy(endpoint string, err error) {
	b.mu.Lock()
	b.health[endpoint] = false
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.FederationBroadcastFail.Inc()
	}
	b.logger.Warn("federation broadcast failed",
		zap.String("endpoint", endpoint),
		zap.Error(err),
	)
}

func (b *Bus) probe(ctx context.Context, endpoint string) bool {
	pCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pCtx, http.MethodGet, endpoint+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 400
}
