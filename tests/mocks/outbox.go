package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
)

// MockOutboxRepository simula el lado del relay del outbox.
type MockOutboxRepository struct {
	mock.Mock
}

var _ domain.OutboxRepository = (*MockOutboxRepository)(nil)

func (m *MockOutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.Envelope, error) {
	args := m.Called(ctx, limit)
	envs, _ := args.Get(0).([]domain.Envelope)
	return envs, args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// MockEnvelopeWriter simula el lado de los productores.
type MockEnvelopeWriter struct {
	mock.Mock
}

var _ domain.EnvelopeWriter = (*MockEnvelopeWriter)(nil)

func (m *MockEnvelopeWriter) Insert(ctx context.Context, env *domain.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockEnvelopeWriter) InsertBatch(ctx context.Context, envs []*domain.Envelope) error {
	args := m.Called(ctx, envs)
	return args.Error(0)
}

// MockStatsReader simula la consulta de estadísticas de pendientes.
type MockStatsReader struct {
	mock.Mock
}

var _ domain.StatsReader = (*MockStatsReader)(nil)

func (m *MockStatsReader) PendingStats(ctx context.Context, failureThreshold int) (domain.PendingStats, error) {
	args := m.Called(ctx, failureThreshold)
	return args.Get(0).(domain.PendingStats), args.Error(1)
}

// MockDeliveryRecorder simula el log de auditoría.
type MockDeliveryRecorder struct {
	mock.Mock
}

var _ domain.DeliveryRecorder = (*MockDeliveryRecorder)(nil)

func (m *MockDeliveryRecorder) RecordAttempts(ctx context.Context, attempts []domain.DeliveryAttempt) error {
	args := m.Called(ctx, attempts)
	return args.Error(0)
}

// MockLease simula la coordinación entre instancias.
type MockLease struct {
	mock.Mock
}

var _ domain.Lease = (*MockLease)(nil)

func (m *MockLease) Acquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockLease) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
