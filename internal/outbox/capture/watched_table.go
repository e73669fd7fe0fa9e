package capture

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/davicafu/eventrelay/internal/shared/events"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

var (
	ErrInvalidWatchedTable = errors.New("invalid watched table")

	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	eventTypeRe  = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)
)

// WatchedTable describe qué mutaciones de una tabla de negocio generan un
// evento en el outbox. Condition es una expresión SQL sobre NEW/OLD que
// escribe el operador; se inserta tal cual en la cláusula WHEN.
type WatchedTable struct {
	Table           string          `json:"table"`
	Operation       Operation       `json:"operation"`
	EventType       string          `json:"event_type"`
	AggregateColumn string          `json:"aggregate_column"`
	Priority        events.Priority `json:"priority"`
	SchemaVersion   int             `json:"schema_version,omitempty"`
	Condition       string          `json:"condition,omitempty"`
	// Vacío: en PostgreSQL se serializa la fila completa. SQLite lo exige.
	PayloadColumns []string `json:"payload_columns,omitempty"`
}

func (w WatchedTable) Validate() error {
	if !identifierRe.MatchString(w.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidWatchedTable, w.Table)
	}
	switch w.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: operation %q", ErrInvalidWatchedTable, w.Operation)
	}
	if !eventTypeRe.MatchString(w.EventType) {
		return fmt.Errorf("%w: event_type %q", ErrInvalidWatchedTable, w.EventType)
	}
	if !identifierRe.MatchString(w.AggregateColumn) {
		return fmt.Errorf("%w: aggregate column %q", ErrInvalidWatchedTable, w.AggregateColumn)
	}
	if !w.Priority.Valid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidWatchedTable, w.Priority)
	}
	if w.SchemaVersion < 0 {
		return fmt.Errorf("%w: schema version %d", ErrInvalidWatchedTable, w.SchemaVersion)
	}
	for _, col := range w.PayloadColumns {
		if !identifierRe.MatchString(col) {
			return fmt.Errorf("%w: payload column %q", ErrInvalidWatchedTable, col)
		}
	}
	return nil
}

// TriggerName es estable para poder reinstalar el trigger.
func (w WatchedTable) TriggerName() string {
	return "outbox_capture_" + strings.ToLower(w.Table) + "_" + strings.ToLower(string(w.Operation))
}

func (w WatchedTable) version() int {
	if w.SchemaVersion == 0 {
		return 1
	}
	return w.SchemaVersion
}

// rowRef es NEW salvo en DELETE, donde sólo existe OLD.
func (w WatchedTable) rowRef() string {
	if w.Operation == OpDelete {
		return "OLD"
	}
	return "NEW"
}
