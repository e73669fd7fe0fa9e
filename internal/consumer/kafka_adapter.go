package consumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/shared/infra/kafkax"
	sharedBus "github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventrelay/internal/shared/infra/utils"
)

// MessageHandler es lo que el adapter necesita del consumidor.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, value []byte) (Outcome, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ConsumerAdapter es el "oído" que escucha en Kafka. El offset sólo se
// confirma cuando el handler termina con el mensaje; si falla se reintenta
// el mismo mensaje, sin adelantar a los siguientes de la partición.
type ConsumerAdapter struct {
	reader     messageReader
	handler    MessageHandler
	retryDelay time.Duration
	maxDelay   time.Duration
	log        *zap.Logger
}

func NewConsumerAdapter(reader messageReader, handler MessageHandler, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{
		reader:     reader,
		handler:    handler,
		retryDelay: 200 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        log,
	}
}

// NewGroupReader crea un lector de grupo suscrito a varios topics.
func NewGroupReader(brokers []string, groupID string, topics []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // commits síncronos
	})
}

// Run consume hasta que se cancela ctx.
func (c *ConsumerAdapter) Run(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor de Kafka...")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumidor de Kafka detenido.")
				return
			}
			c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
			continue
		}

		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		err = utils.Retry(ctx, 0, c.retryDelay, c.maxDelay, func() error {
			_, err := c.handler.HandleMessage(msgCtx, string(msg.Key), msg.Value)
			return err
		})
		if err != nil {
			// sólo ocurre al cancelar; el mensaje se volverá a entregar
			c.log.Info("Consumidor detenido con mensaje sin confirmar",
				zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset))
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("Error confirmando offset", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// ConsumeChannel procesa los mensajes del bus en memoria.
func ConsumeChannel(ctx context.Context, ch <-chan sharedBus.Message, handler MessageHandler, log *zap.Logger) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				err := utils.Retry(ctx, 3, 50*time.Millisecond, 0, func() error {
					_, err := handler.HandleMessage(ctx, msg.Key, msg.Value)
					return err
				})
				if err != nil {
					log.Warn("⚠️ Evento en memoria no procesado", zap.String("topic", msg.Topic), zap.Error(err))
				}
			}
		}
	}()
}
