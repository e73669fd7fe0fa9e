package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope es lo que viaja por el broker: metadatos + el payload del evento.
// Base de todos los eventos de integración.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	SchemaVersion int             `json:"schema_version"`
	Priority      Priority        `json:"priority"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"` // contenido específico del evento
}

// Cabeceras que acompañan a cada mensaje publicado.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderPriority      = "priority"
	HeaderCreatedAt     = "created_at"
	HeaderSchemaVersion = "schema_version"
)

// DecodeEnvelope parsea el valor de un mensaje del broker.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventID == uuid.Nil || env.EventType == "" || env.AggregateID == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: missing identity fields", ErrMalformedEnvelope)
	}
	if env.SchemaVersion < 1 {
		return Envelope{}, fmt.Errorf("%w: schema_version %d", ErrMalformedEnvelope, env.SchemaVersion)
	}
	return env, nil
}

// Headers devuelve las cabeceras de transporte derivadas del sobre.
func (e Envelope) Headers() map[string]string {
	return map[string]string{
		HeaderEventID:       e.EventID.String(),
		HeaderEventType:     e.EventType,
		HeaderPriority:      fmt.Sprintf("%d", int(e.Priority)),
		HeaderCreatedAt:     e.OccurredAt.UTC().Format(time.RFC3339Nano),
		HeaderSchemaVersion: fmt.Sprintf("%d", e.SchemaVersion),
	}
}
