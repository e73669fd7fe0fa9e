package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
)

// DeliveryLog guarda un registro por intento de envío del Publisher.
type DeliveryLog struct {
	db *sql.DB
}

func NewDeliveryLog(ctx context.Context, addr string, dbName string) (*DeliveryLog, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return &DeliveryLog{db: conn}, nil
}

// InitSchema crea la tabla si no existe. Particionada por mes y ordenada
// por tipo de evento y momento del intento.
func (r *DeliveryLog) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_delivery_log (
			event_id     UUID,
			aggregate_id UUID,
			event_type   LowCardinality(String),
			topic        LowCardinality(String),
			priority     UInt8,
			attempt      UInt32,
			success      Bool,
			error        String,
			latency_ms   Int64,
			attempted_at DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(attempted_at)
		ORDER BY (event_type, attempted_at, event_id)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// RecordAttempts inserta el lote de intentos de un ciclo.
func (r *DeliveryLog) RecordAttempts(ctx context.Context, attempts []domain.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outbox_delivery_log
		(event_id, aggregate_id, event_type, topic, priority, attempt, success, error, latency_ms, attempted_at)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, a := range attempts {
		if _, err := stmt.ExecContext(ctx,
			a.EventID,
			a.AggregateID,
			a.EventType,
			a.Topic,
			uint8(a.Priority),
			uint32(a.Attempt),
			a.Success,
			a.Error,
			a.LatencyMs,
			a.AttemptedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", a.EventID, err)
		}
	}
	return tx.Commit()
}

// DailyTrend agrega los intentos por día y tipo de evento.
func (r *DeliveryLog) DailyTrend(ctx context.Context, start, end time.Time) ([]domain.DeliveryTrend, error) {
	query := `
		SELECT
			toStartOfDay(attempted_at) AS day,
			event_type,
			countIf(success)     AS delivered,
			countIf(NOT success) AS failed,
			avg(latency_ms)      AS avg_latency_ms
		FROM outbox_delivery_log
		WHERE attempted_at BETWEEN ? AND ?
		GROUP BY day, event_type
		ORDER BY day, event_type
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []domain.DeliveryTrend
	for rows.Next() {
		var (
			t                 domain.DeliveryTrend
			delivered, failed uint64
		)
		if err := rows.Scan(&t.Day, &t.EventType, &delivered, &failed, &t.AvgLatencyMs); err != nil {
			return nil, err
		}
		t.Delivered, t.Failed = int64(delivered), int64(failed)
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

func (r *DeliveryLog) Close() error {
	return r.db.Close()
}

var (
	_ domain.DeliveryRecorder    = (*DeliveryLog)(nil)
	_ domain.DeliveryTrendReader = (*DeliveryLog)(nil)
)
