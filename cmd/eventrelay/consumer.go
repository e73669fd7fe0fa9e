package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/config"
	"github.com/davicafu/eventrelay/internal/consumer"
	busOut "github.com/davicafu/eventrelay/internal/outbox/infra/outbound/events"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

const (
	memoryConsumerBuffer = 64
	inboxCleanupInterval = time.Hour
)

// startConsumer arranca el consumidor de referencia: con Kafka sólo si hay
// CONSUMER_GROUP; con el bus en memoria siempre.
func startConsumer(ctx context.Context, cfg *config.Config, st *storage, rdb *redis.Client, memBus *busOut.InMemoryEventBus, registry *schema.Registry, log *zap.Logger, wg *sync.WaitGroup) error {
	if cfg.UseKafka && cfg.ConsumerGroup == "" {
		log.Info("Consumidor de referencia desactivado (sin CONSUMER_GROUP)")
		return nil
	}

	dedup, err := newDeduper(ctx, cfg, st, rdb, log, wg)
	if err != nil {
		return err
	}

	versions := make(map[string]int)
	topics := make([]string, 0)
	for _, t := range registry.EventTypes() {
		if v, ok := registry.Latest(t); ok {
			versions[t] = v
		}
		topics = append(topics, events.Topic(cfg.TopicPrefix, t))
	}

	clog := log.Named("consumer")
	handler := consumer.NewIdempotentConsumer(referenceRouter(clog), dedup, registry, versions, clog)

	if memBus != nil {
		for _, topic := range topics {
			consumer.ConsumeChannel(ctx, memBus.Subscribe(topic, memoryConsumerBuffer), handler, clog)
		}
		clog.Info("🎧 Consumidor en memoria escuchando", zap.Int("topics", len(topics)))
		return nil
	}

	reader := consumer.NewGroupReader(cfg.KafkaBrokers, cfg.ConsumerGroup, topics)
	adapter := consumer.NewConsumerAdapter(reader, handler, clog)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()
		adapter.Run(ctx)
	}()
	return nil
}

func newDeduper(ctx context.Context, cfg *config.Config, st *storage, rdb *redis.Client, log *zap.Logger, wg *sync.WaitGroup) (consumer.Deduper, error) {
	switch cfg.ConsumerDedup {
	case config.DedupRedis:
		if rdb == nil {
			return nil, fmt.Errorf("CONSUMER_DEDUP=redis but redis is unavailable")
		}
		return consumer.NewRedisDeduper(rdb, consumerName(cfg), cfg.ConsumerDedupTTL), nil
	case config.DedupSQL:
		dialect := consumer.InboxSQLite
		if cfg.StorageDriver == config.StoragePostgres {
			dialect = consumer.InboxPostgres
		}
		inbox := consumer.NewSQLInbox(st.sqlDB, dialect, consumerName(cfg))
		if err := inbox.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		// Pasada la ventana de reentrega las filas del inbox ya no deduplican nada.
		wg.Add(1)
		go func() {
			defer wg.Done()
			inbox.StartCleanup(ctx, cfg.ConsumerDedupTTL, inboxCleanupInterval, log.Named("inbox"))
		}()
		return inbox, nil
	default:
		return consumer.NewInMemoryDeduper(), nil
	}
}

func consumerName(cfg *config.Config) string {
	if cfg.ConsumerGroup != "" {
		return cfg.ConsumerGroup
	}
	return "eventrelay-local"
}

// referenceRouter sólo deja constancia de lo que recibe; los servicios reales
// registran aquí sus proyecciones.
func referenceRouter(log *zap.Logger) *consumer.Router {
	r := consumer.NewRouter()
	consumer.On(r, events.MessageCreatedType, func(_ context.Context, env events.Envelope, evt events.MessageCreated) error {
		log.Info("📨 Mensaje recibido",
			zap.String("event_id", env.EventID.String()),
			zap.String("conversation_id", evt.ConversationID.String()))
		return nil
	})
	consumer.On(r, events.PostCreatedType, func(_ context.Context, env events.Envelope, evt events.PostCreated) error {
		log.Info("📝 Post publicado",
			zap.String("event_id", env.EventID.String()),
			zap.String("author_id", evt.AuthorID.String()),
			zap.Int("written_version", env.SchemaVersion))
		return nil
	})
	consumer.On(r, events.StreamStartedType, func(_ context.Context, env events.Envelope, evt events.StreamStarted) error {
		log.Info("🔴 Stream en directo",
			zap.String("event_id", env.EventID.String()),
			zap.String("stream_id", evt.StreamID.String()))
		return nil
	})
	return r
}
