package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

// TelemetryRepo — пакетный приемник событий телеметрии (Bulk Insert).
// Используется как sink очереди телеметрии, когда внешний webhook
// не сконфигурирован: данные остаются у себя, но пишутся пачками,
// чтобы не нагружать Hot Path.
type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(connString string) (*TelemetryRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open telemetry connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TelemetryRepo{db: db}, nil
}

// Deliver сохраняет пачку событий за один запрос.
func (r *TelemetryRepo) Deliver(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице telemetry_events
	numFields := 4
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d),", p+1, p+2, p+3, p+4)

		props, _ := json.Marshal(e.Properties)
		vals = append(vals, e.Name, e.TraceID, props, e.Timestamp)
	}

	query := fmt.Sprintf(
		"INSERT INTO telemetry_events (name, trace_id, properties, created_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *TelemetryRepo) Close() error { return r.db.Close() }
