package consumer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/shared/events"
)

// Outcome describe qué pasó con un mensaje entregado.
type Outcome string

const (
	Processed Outcome = "processed"
	Duplicate Outcome = "duplicate"
	Stale     Outcome = "stale"    // superado por una versión más reciente del agregado
	Rejected  Outcome = "rejected" // no se puede interpretar; no se reintenta
	Failed    Outcome = "failed"   // el handler falló; se reintenta
)

// Handler aplica el efecto de negocio de un evento ya decodificado.
type Handler interface {
	Handle(ctx context.Context, env events.Envelope, evt events.DomainEvent) error
}

type HandlerFunc func(ctx context.Context, env events.Envelope, evt events.DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, env events.Envelope, evt events.DomainEvent) error {
	return f(ctx, env, evt)
}

// VersionGate decide si una versión escrita es legible por el consumidor.
type VersionGate interface {
	CheckCompatible(eventType string, consumerVersion, writtenVersion int) error
}

// Deduper recuerda qué eventos ya se aplicaron. Un id sólo se marca cuando
// el handler terminó bien; hasta entonces una nueva entrega lo reprocesa.
type Deduper interface {
	Seen(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, eventID uuid.UUID) error
}

// VersionTracker implementa el reemplazo por versión monótona: una versión
// es obsoleta si no supera la última aplicada para key.
type VersionTracker interface {
	Stale(ctx context.Context, key string, version int64) (bool, error)
	Advance(ctx context.Context, key string, version int64) error
}

// IdempotentConsumer aplica cada evento como mucho una vez aunque el broker
// lo entregue varias.
type IdempotentConsumer struct {
	handler  Handler
	dedup    Deduper
	gate     VersionGate
	versions map[string]int // versión que entiende este consumidor por tipo
	tracker  VersionTracker
	log      *zap.Logger
}

type Option func(*IdempotentConsumer)

// WithVersionTracker descarta eventos más antiguos que el último aplicado
// para el mismo agregado y tipo.
func WithVersionTracker(t VersionTracker) Option {
	return func(c *IdempotentConsumer) { c.tracker = t }
}

func NewIdempotentConsumer(handler Handler, dedup Deduper, gate VersionGate, versions map[string]int, log *zap.Logger, opts ...Option) *IdempotentConsumer {
	c := &IdempotentConsumer{
		handler:  handler,
		dedup:    dedup,
		gate:     gate,
		versions: versions,
		log:      log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HandleMessage procesa el valor crudo de un mensaje. Sólo devuelve error
// con Failed; los rechazos se registran y no se reintentan.
func (c *IdempotentConsumer) HandleMessage(ctx context.Context, key string, value []byte) (Outcome, error) {
	env, err := events.DecodeEnvelope(value)
	if err != nil {
		c.log.Warn("⚠️ Mensaje con sobre inválido", zap.String("key", key), zap.Error(err))
		return Rejected, nil
	}
	fields := []zap.Field{
		zap.String("event_id", env.EventID.String()),
		zap.String("event_type", env.EventType),
		zap.String("aggregate_id", env.AggregateID.String()),
		zap.Int("schema_version", env.SchemaVersion),
	}

	readable, ok := c.versions[env.EventType]
	if !ok {
		c.log.Debug("Evento no suscrito, se ignora", fields...)
		return Rejected, nil
	}
	if err := c.gate.CheckCompatible(env.EventType, readable, env.SchemaVersion); err != nil {
		c.log.Warn("⚠️ Versión de esquema no legible, se rechaza", append(fields, zap.Error(err))...)
		return Rejected, nil
	}
	evt, err := events.Decode(env)
	if err != nil {
		c.log.Warn("⚠️ Payload no decodificable", append(fields, zap.Error(err))...)
		return Rejected, nil
	}

	seen, err := c.dedup.Seen(ctx, env.EventID)
	if err != nil {
		return Failed, fmt.Errorf("dedup lookup %s: %w", env.EventID, err)
	}
	if seen {
		c.log.Info("Evento duplicado ignorado", fields...)
		return Duplicate, nil
	}

	versionKey := env.AggregateID.String() + ":" + env.EventType
	version := env.OccurredAt.UnixNano()
	if c.tracker != nil {
		stale, err := c.tracker.Stale(ctx, versionKey, version)
		if err != nil {
			return Failed, fmt.Errorf("version tracker %s: %w", env.EventID, err)
		}
		if stale {
			c.log.Info("Evento superado por una versión posterior", fields...)
			return Stale, nil
		}
	}

	if err := c.handler.Handle(ctx, env, evt); err != nil {
		c.log.Warn("⚠️ Fallo procesando evento", append(fields, zap.Error(err))...)
		return Failed, err
	}

	// Sólo se marca tras aplicar: si el proceso cae antes, la reentrega lo repite.
	if err := c.dedup.MarkProcessed(context.WithoutCancel(ctx), env.EventID); err != nil {
		c.log.Error("❌ No se pudo registrar el evento como procesado", append(fields, zap.Error(err))...)
		return Failed, fmt.Errorf("dedup mark %s: %w", env.EventID, err)
	}
	if c.tracker != nil {
		if err := c.tracker.Advance(context.WithoutCancel(ctx), versionKey, version); err != nil {
			return Failed, fmt.Errorf("version tracker %s: %w", env.EventID, err)
		}
	}

	c.log.Debug("✅ Evento procesado", fields...)
	return Processed, nil
}
