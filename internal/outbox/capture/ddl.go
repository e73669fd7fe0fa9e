package capture

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// PostgresTriggerDDL genera la función y el trigger AFTER de una tabla.
// El INSERT va en un bloque propio: si falla se emite un WARNING y la
// transacción de negocio sigue adelante.
func PostgresTriggerDDL(w WatchedTable) ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	row := w.rowRef()
	name := w.TriggerName()

	payload := "to_jsonb(" + row + ")"
	if len(w.PayloadColumns) > 0 {
		pairs := make([]string, 0, len(w.PayloadColumns))
		for _, col := range w.PayloadColumns {
			pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", col, row, col))
		}
		payload = "jsonb_build_object(" + strings.Join(pairs, ", ") + ")"
	}

	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
	BEGIN
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload, priority, schema_version)
		VALUES (gen_random_uuid(), %[2]s.%[3]s::uuid, '%[4]s', %[5]s, %[6]d, %[7]d);
	EXCEPTION WHEN OTHERS THEN
		RAISE WARNING 'outbox capture on %% failed: %% (%%)', TG_TABLE_NAME, SQLERRM, SQLSTATE;
	END;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, name, row, w.AggregateColumn, w.EventType, payload, int(w.Priority), w.version())

	trigger := fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW", name, w.Operation, w.Table)
	if cond := strings.TrimSpace(w.Condition); cond != "" {
		trigger += " WHEN (" + cond + ")"
	}
	trigger += " EXECUTE FUNCTION " + name + "()"

	return []string{
		fn,
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, w.Table),
		trigger,
	}, nil
}

// sqliteUUID produce un UUID v4 en texto.
const sqliteUUID = `lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-4' ||
	substr(hex(randomblob(2)), 2) || '-' || substr('89ab', 1 + (abs(random()) % 4), 1) ||
	substr(hex(randomblob(2)), 2) || '-' || hex(randomblob(6)))`

// sqliteNowNanos tiene precisión de milisegundos; seq desempata.
const sqliteNowNanos = `CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER) * 1000000`

// SQLiteTriggerDDL genera un trigger AFTER con INSERT OR IGNORE: una
// violación de restricción en el outbox no aborta la escritura de negocio.
func SQLiteTriggerDDL(w WatchedTable) ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if len(w.PayloadColumns) == 0 {
		return nil, fmt.Errorf("%w: sqlite capture needs explicit payload columns", ErrInvalidWatchedTable)
	}
	row := w.rowRef()
	name := w.TriggerName()

	pairs := make([]string, 0, len(w.PayloadColumns))
	for _, col := range w.PayloadColumns {
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", col, row, col))
	}

	trigger := fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW", name, w.Operation, w.Table)
	if cond := strings.TrimSpace(w.Condition); cond != "" {
		trigger += " WHEN " + cond
	}
	trigger += fmt.Sprintf(`
BEGIN
	INSERT OR IGNORE INTO outbox_events (id, aggregate_id, event_type, payload, priority, schema_version, created_at)
	VALUES (%s, %s.%s, '%s', json_object(%s), %d, %d, %s);
END`, sqliteUUID, row, w.AggregateColumn, w.EventType, strings.Join(pairs, ", "),
		int(w.Priority), w.version(), sqliteNowNanos)

	return []string{
		"DROP TRIGGER IF EXISTS " + name,
		trigger,
	}, nil
}

// InstallTriggers (re)instala los triggers de captura en una transacción.
// El esquema del outbox debe existir ya.
func InstallTriggers(ctx context.Context, db *sql.DB, dialect Dialect, tables []WatchedTable) error {
	var generate func(WatchedTable) ([]string, error)
	switch dialect {
	case DialectPostgres:
		generate = PostgresTriggerDDL
	case DialectSQLite:
		generate = SQLiteTriggerDDL
	default:
		return fmt.Errorf("unsupported capture dialect %q", dialect)
	}

	var stmts []string
	for _, w := range tables {
		ddl, err := generate(w)
		if err != nil {
			return err
		}
		stmts = append(stmts, ddl...)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("install capture trigger: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
