package sqlite

// Las fechas se guardan como INTEGER (nanosegundos Unix) para que el orden
// y la comparación sean exactos.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS outbox_events (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT    NOT NULL UNIQUE,
		aggregate_id   TEXT    NOT NULL,
		event_type     TEXT    NOT NULL,
		payload        TEXT    NOT NULL CHECK (json_valid(payload)),
		priority       INTEGER NOT NULL DEFAULT 2 CHECK (priority BETWEEN 0 AND 3),
		schema_version INTEGER NOT NULL DEFAULT 1 CHECK (schema_version >= 1),
		created_at     INTEGER NOT NULL,
		published_at   INTEGER,
		retry_count    INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
		last_error     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending
		ON outbox_events (priority, created_at, seq) WHERE published_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_aggregate
		ON outbox_events (aggregate_id, event_type, created_at)`,
	// published_at se escribe una sola vez y retry_count nunca baja.
	`CREATE TRIGGER IF NOT EXISTS outbox_events_guard
		BEFORE UPDATE ON outbox_events
		WHEN (OLD.published_at IS NOT NULL AND (NEW.published_at IS NULL OR NEW.published_at != OLD.published_at))
		  OR NEW.retry_count < OLD.retry_count
		BEGIN
			SELECT RAISE(ABORT, 'outbox_events: published_at is write-once and retry_count never decreases');
		END`,
}
