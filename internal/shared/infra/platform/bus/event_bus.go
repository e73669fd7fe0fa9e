package bus

import "context"

type Keyer interface {
	PartitionKey() string
}

// Message es lo que se entrega al broker. El adapter decide cómo mapear
// Topic/Key/Headers a su protocolo.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// NewMessage arma un mensaje tomando la clave de partición del Keyer.
func NewMessage(topic string, k Keyer, value []byte, headers map[string]string) Message {
	return Message{Topic: topic, Key: k.PartitionKey(), Value: value, Headers: headers}
}

// EventBus: Publish devuelve nil solo cuando el broker confirmó la recepción.
type EventBus interface {
	Publish(ctx context.Context, msg Message) error
}
