package events

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/shared/infra/kafkax"
	sharedBus "github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_MapsMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, zap.NewNop())

	err := p.Publish(context.Background(), sharedBus.Message{
		Topic:   "social.message.created",
		Key:     "agg-1",
		Value:   []byte(`{"event_id":"e1"}`),
		Headers: map[string]string{"event_id": "e1", "priority": "0"},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)

	km := w.written[0]
	assert.Equal(t, "social.message.created", km.Topic)
	assert.Equal(t, []byte("agg-1"), km.Key)
	assert.JSONEq(t, `{"event_id":"e1"}`, string(km.Value))
	assert.Equal(t, "e1", kafkax.HeaderValue(km.Headers, "event_id"))
	assert.Equal(t, "0", kafkax.HeaderValue(km.Headers, "priority"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PropagatesWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewKafkaPublisher(&fakeWriter{err: boom}, zap.NewNop())

	err := p.Publish(context.Background(), sharedBus.Message{Topic: "t", Key: "k"})
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaWriter_Settings(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"})
	assert.Empty(t, w.Topic, "topic is set per message")
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.False(t, w.Async)
}
