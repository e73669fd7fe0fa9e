package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

const collectionName = "outbox_events"

// OutboxRepoMongoDB guarda el outbox en una colección de MongoDB.
// InsertBatch usa transacciones, así que requiere un replica set.
type OutboxRepoMongoDB struct {
	client *mongo.Client
	coll   *mongo.Collection
	seq    atomic.Int64
}

var _ domain.Store = (*OutboxRepoMongoDB)(nil)

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	return &OutboxRepoMongoDB{
		client: client,
		coll:   client.Database(dbName).Collection(collectionName),
	}
}

// mongoEnvelope mapea el documento. pending se mantiene a la par que
// publishedAt para poder usar un índice parcial.
type mongoEnvelope struct {
	ID            string     `bson:"_id"`
	Seq           int64      `bson:"seq"`
	AggregateID   string     `bson:"aggregateId"`
	EventType     string     `bson:"eventType"`
	Payload       string     `bson:"payload"`
	Priority      int        `bson:"priority"`
	SchemaVersion int        `bson:"schemaVersion"`
	CreatedAt     time.Time  `bson:"createdAt"`
	PublishedAt   *time.Time `bson:"publishedAt,omitempty"`
	Pending       bool       `bson:"pending"`
	RetryCount    int        `bson:"retryCount"`
	LastError     *string    `bson:"lastError,omitempty"`
}

func (r *OutboxRepoMongoDB) EnsureSchema(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "priority", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().
				SetName("idx_outbox_events_pending").
				SetPartialFilterExpression(bson.M{"pending": true}),
		},
		{
			Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "eventType", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("idx_outbox_events_aggregate"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

func (r *OutboxRepoMongoDB) Insert(ctx context.Context, env *domain.Envelope) error {
	if _, err := r.coll.InsertOne(ctx, r.toDocument(env)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *OutboxRepoMongoDB) InsertBatch(ctx context.Context, envs []*domain.Envelope) error {
	docs := make([]interface{}, 0, len(envs))
	for _, env := range envs {
		docs = append(docs, r.toDocument(env))
	}

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.coll.InsertMany(sc, docs)
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

var selectionSort = bson.D{{Key: "priority", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}

// FetchPending sigue el mismo criterio que los repos SQL: cabeza por
// prioridad y, por agregado, un prefijo en orden de creación, con limit
// como tope del total.
func (r *OutboxRepoMongoDB) FetchPending(ctx context.Context, limit int) ([]domain.Envelope, error) {
	headOpts := options.Find().
		SetSort(selectionSort).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"aggregateId": 1, "createdAt": 1, "seq": 1})

	head, err := r.find(ctx, bson.M{"pending": true}, headOpts)
	if err != nil {
		return nil, err
	}

	var docs []mongoEnvelope
	remaining := limit
	for _, cut := range planCuts(head) {
		if remaining <= 0 {
			break
		}
		opts := options.Find().SetSort(creationSort).SetLimit(int64(remaining))
		prefix, err := r.find(ctx, cut.filter(), opts)
		if err != nil {
			return nil, err
		}
		docs = append(docs, prefix...)
		remaining -= len(prefix)
	}
	sortBySelection(docs)
	return toEnvelopes(docs)
}

var creationSort = bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}

// aggregateCut: hasta dónde hay que leer un agregado para no saltarse
// ninguno de sus pendientes anteriores.
type aggregateCut struct {
	aggregateID string
	upto        time.Time
}

func (c aggregateCut) filter() bson.M {
	return bson.M{
		"pending":     true,
		"aggregateId": c.aggregateID,
		"createdAt":   bson.M{"$lte": c.upto},
	}
}

// planCuts agrupa la cabeza por agregado en el orden en que aparece cada
// uno por primera vez.
func planCuts(head []mongoEnvelope) []aggregateCut {
	var cuts []aggregateCut
	index := make(map[string]int)
	for _, h := range head {
		i, ok := index[h.AggregateID]
		if !ok {
			index[h.AggregateID] = len(cuts)
			cuts = append(cuts, aggregateCut{aggregateID: h.AggregateID, upto: h.CreatedAt})
			continue
		}
		if h.CreatedAt.After(cuts[i].upto) {
			cuts[i].upto = h.CreatedAt
		}
	}
	return cuts
}

func sortBySelection(docs []mongoEnvelope) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

func (r *OutboxRepoMongoDB) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "pending": true},
		bson.M{"$set": bson.M{"publishedAt": at.UTC(), "pending": false}})
	return checkMatched(res, err, id)
}

func (r *OutboxRepoMongoDB) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "pending": true},
		bson.M{"$inc": bson.M{"retryCount": 1}, "$set": bson.M{"lastError": reason}})
	return checkMatched(res, err, id)
}

func (r *OutboxRepoMongoDB) PendingStats(ctx context.Context, failureThreshold int) (domain.PendingStats, error) {
	var stats domain.PendingStats

	count, err := r.coll.CountDocuments(ctx, bson.M{"pending": true})
	if err != nil {
		return stats, fmt.Errorf("db error: %w", err)
	}
	failing, err := r.coll.CountDocuments(ctx, bson.M{"pending": true, "retryCount": bson.M{"$gte": failureThreshold}})
	if err != nil {
		return stats, fmt.Errorf("db error: %w", err)
	}
	stats.Count, stats.FailingCount = count, failing

	var oldest mongoEnvelope
	err = r.coll.FindOne(ctx, bson.M{"pending": true},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetProjection(bson.M{"createdAt": 1}),
	).Decode(&oldest)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return stats, fmt.Errorf("db error: %w", err)
	default:
		ts := oldest.CreatedAt.UTC()
		stats.OldestCreatedAt = &ts
	}
	return stats, nil
}

func (r *OutboxRepoMongoDB) ListByAggregate(ctx context.Context, aggregateID uuid.UUID, eventType string, limit int) ([]domain.Envelope, error) {
	filter := bson.M{"aggregateId": aggregateID.String()}
	if eventType != "" {
		filter["eventType"] = eventType
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	docs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return toEnvelopes(docs)
}

func (r *OutboxRepoMongoDB) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]mongoEnvelope, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoEnvelope
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return docs, nil
}

// nextSeq es monótono dentro del proceso y sigue al reloj entre reinicios.
func (r *OutboxRepoMongoDB) nextSeq() int64 {
	for {
		last := r.seq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if r.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (r *OutboxRepoMongoDB) toDocument(env *domain.Envelope) mongoEnvelope {
	return mongoEnvelope{
		ID:            env.ID.String(),
		Seq:           r.nextSeq(),
		AggregateID:   env.AggregateID.String(),
		EventType:     env.EventType,
		Payload:       string(env.Payload),
		Priority:      int(env.Priority),
		SchemaVersion: env.SchemaVersion,
		CreatedAt:     env.CreatedAt.UTC(),
		Pending:       true,
	}
}

func toEnvelopes(docs []mongoEnvelope) ([]domain.Envelope, error) {
	out := make([]domain.Envelope, 0, len(docs))
	for i := range docs {
		env, err := fromMongoEnvelope(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func fromMongoEnvelope(m *mongoEnvelope) (domain.Envelope, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	agg, err := uuid.Parse(m.AggregateID)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("invalid aggregate UUID in outbox document %s: %w", m.ID, err)
	}
	env := domain.Envelope{
		ID:            id,
		AggregateID:   agg,
		EventType:     m.EventType,
		Payload:       json.RawMessage(m.Payload),
		Priority:      events.Priority(m.Priority),
		SchemaVersion: m.SchemaVersion,
		CreatedAt:     m.CreatedAt.UTC(),
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
		Seq:           m.Seq,
	}
	if m.PublishedAt != nil {
		ts := m.PublishedAt.UTC()
		env.PublishedAt = &ts
	}
	return env, nil
}

func checkMatched(res *mongo.UpdateResult, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEnvelopeNotPending, id)
	}
	return nil
}
