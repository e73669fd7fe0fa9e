package postgres

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS outbox_events (
		seq            BIGINT GENERATED ALWAYS AS IDENTITY,
		id             UUID        PRIMARY KEY,
		aggregate_id   UUID        NOT NULL,
		event_type     TEXT        NOT NULL,
		payload        JSONB       NOT NULL,
		priority       SMALLINT    NOT NULL DEFAULT 2 CHECK (priority BETWEEN 0 AND 3),
		schema_version INTEGER     NOT NULL DEFAULT 1 CHECK (schema_version >= 1),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		published_at   TIMESTAMPTZ,
		retry_count    INTEGER     NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
		last_error     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending
		ON outbox_events (priority, created_at, seq) WHERE published_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_aggregate
		ON outbox_events (aggregate_id, event_type, created_at)`,
	`CREATE OR REPLACE FUNCTION outbox_events_guard() RETURNS trigger AS $$
	BEGIN
		IF OLD.published_at IS NOT NULL AND NEW.published_at IS DISTINCT FROM OLD.published_at THEN
			RAISE EXCEPTION 'outbox_events: published_at is write-once (id=%)', OLD.id;
		END IF;
		IF NEW.retry_count < OLD.retry_count THEN
			RAISE EXCEPTION 'outbox_events: retry_count never decreases (id=%)', OLD.id;
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS outbox_events_guard ON outbox_events`,
	`CREATE TRIGGER outbox_events_guard BEFORE UPDATE ON outbox_events
		FOR EACH ROW EXECUTE FUNCTION outbox_events_guard()`,
}
