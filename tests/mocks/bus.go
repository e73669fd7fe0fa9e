package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
)

// MockPublisher simula un broker con testify.
type MockPublisher struct {
	mock.Mock
}

var _ bus.EventBus = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, msg bus.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// RecordingBus es un broker falso que guarda los mensajes aceptados en orden
// de llegada. FailWith permite decidir por mensaje si el envío falla.
type RecordingBus struct {
	mu       sync.Mutex
	Messages []bus.Message
	Attempts int
	FailWith func(msg bus.Message) error
	// Block, si no es nil, hace que Publish espere a que se cierre o al ctx.
	Block chan struct{}
}

var _ bus.EventBus = (*RecordingBus)(nil)

func (b *RecordingBus) Publish(ctx context.Context, msg bus.Message) error {
	if b.Block != nil {
		select {
		case <-b.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Attempts++
	if b.FailWith != nil {
		if err := b.FailWith(msg); err != nil {
			return err
		}
	}
	b.Messages = append(b.Messages, msg)
	return nil
}

// Sent devuelve una copia de los mensajes confirmados.
func (b *RecordingBus) Sent() []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Message, len(b.Messages))
	copy(out, b.Messages)
	return out
}
