package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	wire "github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/internal/shared/infra/kafkax"
	sharedBus "github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
)

// messageWriter es la parte de *kafka.Writer que usamos.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	tracer trace.Tracer
	log    *zap.Logger
}

// NewKafkaWriter configura un writer sin topic fijo: cada mensaje lleva el
// suyo. Hash sobre la clave mantiene un agregado en una sola partición y
// RequireAll hace que WriteMessages vuelva sólo tras el ack de las réplicas.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
	}
}

func NewKafkaPublisher(writer messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		tracer: otel.Tracer("github.com/davicafu/eventrelay/outbox"),
		log:    log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg sharedBus.Message) error {
	ctx, span := p.tracer.Start(ctx, "outbox.publish "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.kafka.message.key", msg.Key),
			attribute.String("messaging.message.id", msg.Headers[wire.HeaderEventID]),
		))
	defer span.End()

	km := kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: kafkax.InjectTraceHeaders(ctx, kafkax.ToHeaders(msg.Headers)),
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn("Error publicando en Kafka",
			zap.String("topic", msg.Topic),
			zap.String("event_id", msg.Headers[wire.HeaderEventID]),
			zap.Error(err))
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}

	p.log.Debug("Evento publicado en Kafka",
		zap.String("topic", msg.Topic),
		zap.String("event_id", msg.Headers[wire.HeaderEventID]))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
