package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "chat.message.created", Topic("chat", MessageCreatedType))
	assert.Equal(t, "message.created", Topic("", MessageCreatedType))
	assert.Equal(t, "chat.search.index_updated", Topic("Chat.", "Search.Index_Updated"))
	assert.Equal(t, "chat.user.signed.up", Topic("chat", "user signed/up"))
}

func TestPartitionKey_SameAggregateSameKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, PartitionKey(id), PartitionKey(id))
	assert.NotEqual(t, PartitionKey(id), PartitionKey(uuid.New()))
}

func TestDecodeEnvelope(t *testing.T) {
	env := Envelope{
		EventID:       uuid.New(),
		EventType:     MessageDeletedType,
		AggregateID:   uuid.New(),
		SchemaVersion: 1,
		Priority:      PriorityHigh,
		OccurredAt:    time.Now().UTC(),
		Data:          []byte(`{"a":1}`),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, "1", got.Headers()[HeaderPriority])

	_, err = DecodeEnvelope([]byte(`{"event_type":"x"}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
