package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

// OutboxRepoSQLite guarda el outbox en SQLite (despliegue local y tests).
type OutboxRepoSQLite struct {
	db *sql.DB
}

var _ domain.Store = (*OutboxRepoSQLite)(nil)

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

func (r *OutboxRepoSQLite) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

const insertSQL = `INSERT INTO outbox_events
	(id, aggregate_id, event_type, payload, priority, schema_version, created_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)`

func (r *OutboxRepoSQLite) Insert(ctx context.Context, env *domain.Envelope) error {
	if _, err := r.db.ExecContext(ctx, insertSQL, insertArgs(env)...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *OutboxRepoSQLite) InsertBatch(ctx context.Context, envs []*domain.Envelope) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, env := range envs {
		if err := r.InsertTx(ctx, tx, env); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// InsertTx inserta dentro de la transacción del llamante.
func (r *OutboxRepoSQLite) InsertTx(ctx context.Context, tx *sql.Tx, env *domain.Envelope) error {
	if _, err := tx.ExecContext(ctx, insertSQL, insertArgs(env)...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func insertArgs(env *domain.Envelope) []interface{} {
	return []interface{}{
		env.ID.String(),
		env.AggregateID.String(),
		env.EventType,
		string(env.Payload),
		int(env.Priority),
		env.SchemaVersion,
		env.CreatedAt.UnixNano(),
	}
}

const selectColumns = `o.seq, o.id, o.aggregate_id, o.event_type, o.payload, o.priority,
	o.schema_version, o.created_at, o.published_at, o.retry_count, o.last_error`

// fetchPendingSQL toma los primeros limit pendientes por (priority, created_at)
// y, por cada agregado elegido, sus pendientes anteriores en orden de creación.
// El total nunca pasa de limit: los agregados se atienden en el orden de su
// mejor fila y cada uno aporta un prefijo, así que un backlog largo se drena
// por tramos sin saltarse el orden.
const fetchPendingSQL = `
	WITH head AS (
		SELECT aggregate_id, created_at,
			ROW_NUMBER() OVER (ORDER BY priority ASC, created_at ASC, seq ASC) AS head_rank
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY priority ASC, created_at ASC, seq ASC
		LIMIT ?
	), picked AS (
		SELECT aggregate_id, MAX(created_at) AS upto, MIN(head_rank) AS first_rank
		FROM head GROUP BY aggregate_id
	), prefix AS (
		SELECT o.id, p.first_rank,
			ROW_NUMBER() OVER (PARTITION BY o.aggregate_id ORDER BY o.created_at ASC, o.seq ASC) AS pos
		FROM outbox_events o
		JOIN picked p ON p.aggregate_id = o.aggregate_id
		WHERE o.published_at IS NULL AND o.created_at <= p.upto
	), capped AS (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY first_rank ASC, pos ASC) AS n
			FROM prefix WHERE pos <= ?
		) ranked
		WHERE n <= ?
	)
	SELECT ` + selectColumns + `
	FROM outbox_events o
	JOIN capped c ON c.id = o.id
	ORDER BY o.priority ASC, o.created_at ASC, o.seq ASC`

func (r *OutboxRepoSQLite) FetchPending(ctx context.Context, limit int) ([]domain.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, fetchPendingSQL, limit, limit, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanEnvelopes(rows)
}

func (r *OutboxRepoSQLite) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = ? WHERE id = ? AND published_at IS NULL`,
		at.UnixNano(), id.String())
	return checkAffected(res, err, id)
}

func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1, last_error = ? WHERE id = ? AND published_at IS NULL`,
		reason, id.String())
	return checkAffected(res, err, id)
}

func (r *OutboxRepoSQLite) PendingStats(ctx context.Context, failureThreshold int) (domain.PendingStats, error) {
	var (
		stats   domain.PendingStats
		failing sql.NullInt64
		oldest  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(CASE WHEN retry_count >= ? THEN 1 ELSE 0 END), MIN(created_at)
		 FROM outbox_events WHERE published_at IS NULL`, failureThreshold,
	).Scan(&stats.Count, &failing, &oldest)
	if err != nil {
		return domain.PendingStats{}, fmt.Errorf("db error: %w", err)
	}
	stats.FailingCount = failing.Int64
	if oldest.Valid {
		ts := time.Unix(0, oldest.Int64).UTC()
		stats.OldestCreatedAt = &ts
	}
	return stats, nil
}

func (r *OutboxRepoSQLite) ListByAggregate(ctx context.Context, aggregateID uuid.UUID, eventType string, limit int) ([]domain.Envelope, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM outbox_events o
		 WHERE o.aggregate_id = ? AND (? = '' OR o.event_type = ?)
		 ORDER BY o.created_at ASC, o.seq ASC
		 LIMIT ?`,
		aggregateID.String(), eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]domain.Envelope, error) {
	defer rows.Close()

	var out []domain.Envelope
	for rows.Next() {
		var (
			env         domain.Envelope
			id, aggID   string
			payload     string
			priority    int
			createdAt   int64
			publishedAt sql.NullInt64
			lastError   sql.NullString
		)
		if err := rows.Scan(&env.Seq, &id, &aggID, &env.EventType, &payload, &priority,
			&env.SchemaVersion, &createdAt, &publishedAt, &env.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		var err error
		if env.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid UUID in outbox row %d: %w", env.Seq, err)
		}
		if env.AggregateID, err = uuid.Parse(aggID); err != nil {
			return nil, fmt.Errorf("invalid aggregate UUID in outbox row %s: %w", id, err)
		}
		env.Payload = json.RawMessage(payload)
		env.Priority = events.Priority(priority)
		env.CreatedAt = time.Unix(0, createdAt).UTC()
		if publishedAt.Valid {
			ts := time.Unix(0, publishedAt.Int64).UTC()
			env.PublishedAt = &ts
		}
		if lastError.Valid {
			msg := lastError.String
			env.LastError = &msg
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func checkAffected(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEnvelopeNotPending, id)
	}
	return nil
}
