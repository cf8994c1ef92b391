package postgres

/*
Файл event_repo.go — журнал событий протокола MAP (agent_events).
Хранилище обязано сохранять порядок вставки: снапшоты читают "последние N"
по created_at, а содержательный порядок (governance-сортировка) накладывается
уже поверх, в оркестраторе.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// InsertEvent пишет ровно одну строку журнала. Никакого батчинга:
// один dispatch — одна запись.
func (r *EventRepo) InsertEvent(ctx context.Context, e domain.MapEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO agent_events
			(id, trace_id, event_type, source_agent, target_agent, priority, summary, payload, recommendation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

	_, err = r.pool.Exec(ctx, query,
		e.ID, e.TraceID, string(e.Type), string(e.Source), string(e.Target),
		e.PriorityValue(), e.Summary(), payload, e.PayloadString("recommendationId"), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert event: %w", err)
	}
	return nil
}

// RecentEvents возвращает последние limit событий, новые первыми.
func (r *EventRepo) RecentEvents(ctx context.Context, limit int) ([]domain.MapEvent, error) {
	query := `
		SELECT id, trace_id, event_type, source_agent, COALESCE(target_agent, ''), priority, payload, created_at
		FROM agent_events
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	var results []domain.MapEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// LatestEvaluation возвращает последнее evaluation-событие по рекомендации
// или nil, если оценки еще не было.
func (r *EventRepo) LatestEvaluation(ctx context.Context, recommendationID string) (*domain.MapEvent, error) {
	query := `
		SELECT id, trace_id, event_type, source_agent, COALESCE(target_agent, ''), priority, payload, created_at
		FROM agent_events
		WHERE event_type = 'evaluation'
		  AND (recommendation_id = $1 OR payload->>'recommendationId' = $1)
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.pool.QueryRow(ctx, query, recommendationID)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Оценки нет — это не ошибка
		}
		return nil, err
	}
	return &e, nil
}

// TrustCounts собирает счетчики исходов для расчета trust score.
func (r *EventRepo) TrustCounts(ctx context.Context) (domain.TrustCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'recommendation'),
			COUNT(*) FILTER (WHERE event_type = 'evaluation' AND payload->>'status' = 'approved'),
			COUNT(*) FILTER (WHERE event_type = 'evaluation' AND payload->>'rollbackTriggered' = 'true'),
			COUNT(*) FILTER (WHERE event_type = 'policy_update' AND payload->>'status' <> 'ALLOWED')
		FROM agent_events`

	var c domain.TrustCounts
	err := r.pool.QueryRow(ctx, query).Scan(&c.Total, &c.Applied, &c.RolledBack, &c.PolicyViolations)
	if err != nil {
		return domain.TrustCounts{}, fmt.Errorf("postgres: failed to count trust outcomes: %w", err)
	}
	return c, nil
}

// LoopSample — сырье для тика петли автономии.
type LoopSample struct {
	BacklogSize  int
	AvgLatencyMS float64
}

// SampleLoopTelemetry считает бэклог (рекомендации без оценки за последние
// сутки) и среднюю задержку обработки из payload последних событий.
func (r *EventRepo) SampleLoopTelemetry(ctx context.Context) (LoopSample, error) {
	query := `
		SELECT
			(SELECT COUNT(*)
			 FROM agent_events rec
			 WHERE rec.event_type = 'recommendation'
			   AND rec.created_at > NOW() - INTERVAL '24 hours'
			   AND NOT EXISTS (
				 SELECT 1 FROM agent_events ev
				 WHERE ev.event_type = 'evaluation' AND ev.trace_id = rec.trace_id)),
			COALESCE(
			  (SELECT AVG((payload->>'durationMs')::float)
			   FROM agent_events
			   WHERE payload ? 'durationMs'
			     AND created_at > NOW() - INTERVAL '1 hour'), 0)`

	var s LoopSample
	if err := r.pool.QueryRow(ctx, query).Scan(&s.BacklogSize, &s.AvgLatencyMS); err != nil {
		return LoopSample{}, fmt.Errorf("postgres: failed to sample loop telemetry: %w", err)
	}
	return s, nil
}

// scanEvent — общий скан строки события для Query и QueryRow.
func scanEvent(row pgx.Row) (domain.MapEvent, error) {
	var (
		e        domain.MapEvent
		evType   string
		source   string
		target   string
		priority int
		payload  []byte
	)
	if err := row.Scan(&e.ID, &e.TraceID, &evType, &source, &target, &priority, &payload, &e.Timestamp); err != nil {
		return domain.MapEvent{}, err
	}
	e.Type = domain.EventType(evType)
	e.Source = domain.AgentRole(source)
	e.Target = domain.AgentRole(target)
	e.Priority = &priority
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return domain.MapEvent{}, fmt.Errorf("postgres: corrupted event payload %s: %w", e.ID, err)
	}
	return e, nil
}
