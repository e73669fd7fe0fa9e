package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/internal/shared/events"
)

// MaxPayloadBytes limita el tamaño de un payload aceptado en ingesta.
const MaxPayloadBytes = 1 << 20

// Envelope es una fila de la tabla outbox.
// Los productores solo insertan; published_at, retry_count y last_error
// los modifica exclusivamente el Publisher.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      events.Priority `json:"priority"`
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`

	// Seq es el ordinal de inserción que asigna el almacenamiento; desempata created_at.
	Seq int64 `json:"-"`
}

// NewEnvelope construye un sobre pendiente con id nuevo.
func NewEnvelope(aggregateID uuid.UUID, eventType string, payload json.RawMessage, priority events.Priority, version int, now time.Time) (*Envelope, error) {
	env := &Envelope{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Priority:      priority,
		SchemaVersion: version,
		CreatedAt:     now.UTC(),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// FromDomainEvent convierte una variante tipada en un sobre listo para insertar.
func FromDomainEvent(evt events.DomainEvent, now time.Time) (*Envelope, error) {
	payload, err := events.Payload(evt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return NewEnvelope(evt.AggregateID(), evt.EventType(), payload, evt.Priority(), evt.SchemaVersion(), now)
}

// Validate comprueba los campos obligatorios de un sobre nuevo.
func (e *Envelope) Validate() error {
	switch {
	case e.ID == uuid.Nil:
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("%w: aggregate_id is required", ErrInvalidArgument)
	case e.EventType == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidArgument)
	case !e.Priority.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidArgument, events.ErrInvalidPriority)
	case e.SchemaVersion < 1:
		return fmt.Errorf("%w: schema_version must be >= 1", ErrInvalidArgument)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: payload is required", ErrInvalidArgument)
	case len(e.Payload) > MaxPayloadBytes:
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidArgument, MaxPayloadBytes)
	case !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidArgument)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("%w: created_at is required", ErrInvalidArgument)
	}
	return nil
}

func (e *Envelope) Pending() bool { return e.PublishedAt == nil }

// PartitionKey implementa bus.Keyer.
func (e *Envelope) PartitionKey() string { return events.PartitionKey(e.AggregateID) }

func (e *Envelope) Topic(prefix string) string { return events.Topic(prefix, e.EventType) }

// Wire devuelve la forma que viaja por el broker.
func (e *Envelope) Wire() events.Envelope {
	return events.Envelope{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		SchemaVersion: e.SchemaVersion,
		Priority:      e.Priority,
		OccurredAt:    e.CreatedAt,
		Data:          e.Payload,
	}
}
