package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type InboxDialect string

const (
	InboxPostgres InboxDialect = "postgres"
	InboxSQLite   InboxDialect = "sqlite"
)

const pgUniqueViolation = "23505"

// SQLInbox registra los eventos procesados en una tabla del propio
// consumidor, de modo que sobrevive a reinicios. Las filas más antiguas que
// la ventana de reentrega se purgan con Cleanup.
type SQLInbox struct {
	db       *sql.DB
	dialect  InboxDialect
	consumer string
	now      func() time.Time
}

var _ Deduper = (*SQLInbox)(nil)

func NewSQLInbox(db *sql.DB, dialect InboxDialect, consumer string) *SQLInbox {
	return &SQLInbox{db: db, dialect: dialect, consumer: consumer, now: time.Now}
}

func (i *SQLInbox) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch i.dialect {
	case InboxPostgres:
		ddl = `CREATE TABLE IF NOT EXISTS consumer_inbox (
			consumer     TEXT        NOT NULL,
			event_id     UUID        NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (consumer, event_id)
		)`
	case InboxSQLite:
		ddl = `CREATE TABLE IF NOT EXISTS consumer_inbox (
			consumer     TEXT    NOT NULL,
			event_id     TEXT    NOT NULL,
			processed_at INTEGER NOT NULL,
			PRIMARY KEY (consumer, event_id)
		)`
	default:
		return fmt.Errorf("unsupported inbox dialect %q", i.dialect)
	}
	stmts := []string{
		ddl,
		`CREATE INDEX IF NOT EXISTS idx_consumer_inbox_processed ON consumer_inbox (processed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := i.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (i *SQLInbox) Seen(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM consumer_inbox WHERE consumer = ? AND event_id = ?`
	arg := interface{}(id.String())
	switch i.dialect {
	case InboxPostgres:
		query = `SELECT 1 FROM consumer_inbox WHERE consumer = $1 AND event_id = $2`
		arg = id
	case InboxSQLite:
	default:
		return false, fmt.Errorf("unsupported inbox dialect %q", i.dialect)
	}

	var one int
	err := i.db.QueryRowContext(ctx, query, i.consumer, arg).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}

func (i *SQLInbox) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	switch i.dialect {
	case InboxPostgres:
		_, err := i.db.ExecContext(ctx,
			`INSERT INTO consumer_inbox (consumer, event_id, processed_at) VALUES ($1, $2, $3)`,
			i.consumer, id, i.now().UTC())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Otra entrega concurrente ya lo registró.
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil

	case InboxSQLite:
		_, err := i.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO consumer_inbox (consumer, event_id, processed_at) VALUES (?, ?, ?)`,
			i.consumer, id.String(), i.now().UnixNano())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unsupported inbox dialect %q", i.dialect)
}

// Cleanup borra las entradas de este consumidor procesadas hace más de
// olderThan y devuelve cuántas eliminó.
func (i *SQLInbox) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := i.now().Add(-olderThan)

	var (
		res sql.Result
		err error
	)
	switch i.dialect {
	case InboxPostgres:
		res, err = i.db.ExecContext(ctx,
			`DELETE FROM consumer_inbox WHERE consumer = $1 AND processed_at < $2`, i.consumer, cutoff.UTC())
	case InboxSQLite:
		res, err = i.db.ExecContext(ctx,
			`DELETE FROM consumer_inbox WHERE consumer = ? AND processed_at < ?`, i.consumer, cutoff.UnixNano())
	default:
		return 0, fmt.Errorf("unsupported inbox dialect %q", i.dialect)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return n, nil
}

// StartCleanup purga el inbox cada interval hasta que ctx se cancele.
func (i *SQLInbox) StartCleanup(ctx context.Context, retention, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("🧹 Limpieza del inbox iniciada",
		zap.String("consumer", i.consumer),
		zap.Duration("retention", retention),
		zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("🛑 Limpieza del inbox detenida", zap.String("consumer", i.consumer))
			return
		case <-ticker.C:
			n, err := i.Cleanup(ctx, retention)
			if err != nil {
				log.Error("❌ Error purgando el inbox", zap.String("consumer", i.consumer), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("🧹 Inbox purgado", zap.String("consumer", i.consumer), zap.Int64("deleted", n))
			}
		}
	}
}
