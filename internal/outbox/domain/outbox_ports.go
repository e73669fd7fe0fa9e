package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnvelopeWriter es el único punto por el que los productores tocan la tabla: insertar.
type EnvelopeWriter interface {
	Insert(ctx context.Context, env *Envelope) error
	// InsertBatch inserta todos o ninguno.
	InsertBatch(ctx context.Context, envs []*Envelope) error
}

// OutboxRepository es lo que necesita el Publisher.
// Es una interfaz más pequeña, enfocada en el relay.
type OutboxRepository interface {
	// FetchPending selecciona hasta limit sobres pendientes por (priority, created_at)
	// y añade los pendientes más antiguos de esos mismos agregados.
	FetchPending(ctx context.Context, limit int) ([]Envelope, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// PendingStats son las cifras crudas sobre las que el monitor decide el estado.
type PendingStats struct {
	Count           int64
	FailingCount    int64 // pendientes con retry_count >= umbral
	OldestCreatedAt *time.Time
}

type StatsReader interface {
	PendingStats(ctx context.Context, failureThreshold int) (PendingStats, error)
}

type AuditReader interface {
	// ListByAggregate devuelve el historial de un agregado en orden de creación.
	// eventType vacío significa todos los tipos.
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID, eventType string, limit int) ([]Envelope, error)
}

// Store agrupa todas las capacidades de un backend de outbox.
type Store interface {
	EnvelopeWriter
	OutboxRepository
	StatsReader
	AuditReader
	EnsureSchema(ctx context.Context) error
}

// DeliveryAttempt es el registro de auditoría de un intento de envío.
type DeliveryAttempt struct {
	EventID     uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Topic       string
	Priority    int
	Attempt     int // retry_count + 1 en el momento del envío
	Success     bool
	Error       string
	LatencyMs   int64
	AttemptedAt time.Time
}

// DeliveryRecorder persiste intentos de entrega para análisis; es opcional.
type DeliveryRecorder interface {
	RecordAttempts(ctx context.Context, attempts []DeliveryAttempt) error
}

// DeliveryTrend resume los intentos de un día para un tipo de evento.
type DeliveryTrend struct {
	Day          time.Time `json:"day"`
	EventType    string    `json:"event_type"`
	Delivered    int64     `json:"delivered"`
	Failed       int64     `json:"failed"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
}

type DeliveryTrendReader interface {
	DailyTrend(ctx context.Context, start, end time.Time) ([]DeliveryTrend, error)
}

// Lease coordina varias instancias del Publisher: solo publica quien la tiene.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
