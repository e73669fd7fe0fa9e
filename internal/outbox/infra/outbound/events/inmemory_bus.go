package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sharedBus "github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
)

var (
	ErrBusClosed      = errors.New("in-memory bus closed")
	ErrSubscriberFull = errors.New("in-memory subscriber buffer full")
)

// InMemoryEventBus es un broker de proceso para desarrollo local y tests.
// Publish es síncrono: sólo devuelve nil cuando todos los suscriptores del
// topic recibieron el mensaje, así que un buffer lleno cuenta como fallo
// de envío y el outbox lo reintenta.
type InMemoryEventBus struct {
	subscribers map[string][]chan sharedBus.Message
	mu          sync.RWMutex
	closed      bool
	once        sync.Once
}

var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{subscribers: make(map[string][]chan sharedBus.Message)}
}

func (b *InMemoryEventBus) Publish(ctx context.Context, msg sharedBus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subscribers[msg.Topic] {
		select {
		case sub <- msg:
		default:
			return fmt.Errorf("%w: topic %s", ErrSubscriberFull, msg.Topic)
		}
	}
	return nil
}

// Subscribe registra un oyente para un topic.
func (b *InMemoryEventBus) Subscribe(topic string, bufferSize int) <-chan sharedBus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan sharedBus.Message, bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Close cierra los canales de todos los suscriptores.
func (b *InMemoryEventBus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
	})
}
