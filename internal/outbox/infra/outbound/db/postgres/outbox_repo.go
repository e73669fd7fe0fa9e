package postgres

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

// OutboxRepoPostgres es el sistema de registro en producción.
type OutboxRepoPostgres struct {
	db *sql.DB
}

var _ domain.Store = (*OutboxRepoPostgres)(nil)

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

func (r *OutboxRepoPostgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

const insertSQL = `INSERT INTO outbox_events
	(id, aggregate_id, event_type, payload, priority, schema_version, created_at)
	VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`

func (r *OutboxRepoPostgres) Insert(ctx context.Context, env *domain.Envelope) error {
	if _, err := r.db.ExecContext(ctx, insertSQL, insertArgs(env)...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *OutboxRepoPostgres) InsertBatch(ctx context.Context, envs []*domain.Envelope) error {
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

// InsertTx inserta dentro de la transacción del llamante, junto al cambio de negocio.
func (r *OutboxRepoPostgres) InsertTx(ctx context.Context, tx *sql.Tx, env *domain.Envelope) error {
	if _, err := tx.ExecContext(ctx, insertSQL, insertArgs(env)...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func insertArgs(env *domain.Envelope) []interface{} {
	return []interface{}{
		env.ID,
		env.AggregateID,
		env.EventType,
		string(env.Payload),
		int16(env.Priority),
		env.SchemaVersion,
		env.CreatedAt,
	}
}

const selectColumns = `o.seq, o.id, o.aggregate_id, o.event_type, o.payload, o.priority,
	o.schema_version, o.created_at, o.published_at, o.retry_count, o.last_error`

// Mismo criterio que en SQLite: cabeza por prioridad y, por agregado, un
// prefijo en orden de creación; nunca más de limit filas.
const fetchPendingSQL = `
	WITH head AS (
		SELECT aggregate_id, created_at,
			ROW_NUMBER() OVER (ORDER BY priority ASC, created_at ASC, seq ASC) AS head_rank
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY priority ASC, created_at ASC, seq ASC
		LIMIT $1
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
			FROM prefix WHERE pos <= $1
		) ranked
		WHERE n <= $1
	)
	SELECT ` + selectColumns + `
	FROM outbox_events o
	JOIN capped c ON c.id = o.id
	ORDER BY o.priority ASC, o.created_at ASC, o.seq ASC`

func (r *OutboxRepoPostgres) FetchPending(ctx context.Context, limit int) ([]domain.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, fetchPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanEnvelopes(rows)
}

func (r *OutboxRepoPostgres) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`, id, at)
	return checkAffected(res, err, id)
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1, last_error = $2
		 WHERE id = $1 AND published_at IS NULL`, id, reason)
	return checkAffected(res, err, id)
}

func (r *OutboxRepoPostgres) PendingStats(ctx context.Context, failureThreshold int) (domain.PendingStats, error) {
	var (
		stats  domain.PendingStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE retry_count >= $1), MIN(created_at)
		 FROM outbox_events WHERE published_at IS NULL`, failureThreshold,
	).Scan(&stats.Count, &stats.FailingCount, &oldest)
	if err != nil {
		return domain.PendingStats{}, fmt.Errorf("db error: %w", err)
	}
	if oldest.Valid {
		ts := oldest.Time.UTC()
		stats.OldestCreatedAt = &ts
	}
	return stats, nil
}

func (r *OutboxRepoPostgres) ListByAggregate(ctx context.Context, aggregateID uuid.UUID, eventType string, limit int) ([]domain.Envelope, error) {
	var lim interface{} // nil => LIMIT NULL, sin límite
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM outbox_events o
		 WHERE o.aggregate_id = $1 AND ($2 = '' OR o.event_type = $2)
		 ORDER BY o.created_at ASC, o.seq ASC
		 LIMIT $3`, aggregateID, eventType, lim)
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
			payload     []byte
			priority    int16
			publishedAt sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(&env.Seq, &env.ID, &env.AggregateID, &env.EventType, &payload, &priority,
			&env.SchemaVersion, &env.CreatedAt, &publishedAt, &env.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		env.Payload = json.RawMessage(payload)
		env.Priority = events.Priority(priority)
		env.CreatedAt = env.CreatedAt.UTC()
		if publishedAt.Valid {
			ts := publishedAt.Time.UTC()
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
