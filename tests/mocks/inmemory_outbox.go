package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
)

// InMemoryOutboxRepo reproduce en memoria la semántica de los repos SQL.
// FailInserts/FailFetch simulan la caída del almacenamiento.
type InMemoryOutboxRepo struct {
	mu          sync.Mutex
	rows        []*domain.Envelope
	seq         int64
	FailInserts error
	FailFetch   error
}

var _ domain.Store = (*InMemoryOutboxRepo)(nil)

func NewInMemoryOutboxRepo() *InMemoryOutboxRepo {
	return &InMemoryOutboxRepo{}
}

func (r *InMemoryOutboxRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *InMemoryOutboxRepo) Insert(ctx context.Context, env *domain.Envelope) error {
	return r.InsertBatch(ctx, []*domain.Envelope{env})
}

func (r *InMemoryOutboxRepo) InsertBatch(ctx context.Context, envs []*domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailInserts != nil {
		return r.FailInserts
	}
	for _, env := range envs {
		for _, row := range r.rows {
			if row.ID == env.ID {
				return fmt.Errorf("duplicate id %s", env.ID)
			}
		}
	}
	for _, env := range envs {
		r.seq++
		cp := *env
		cp.Seq = r.seq
		r.rows = append(r.rows, &cp)
	}
	return nil
}

func (r *InMemoryOutboxRepo) FetchPending(ctx context.Context, limit int) ([]domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailFetch != nil {
		return nil, r.FailFetch
	}

	var pending []*domain.Envelope
	for _, row := range r.rows {
		if row.PublishedAt == nil {
			pending = append(pending, row)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return selectionLess(pending[i], pending[j]) })

	head := pending
	if len(head) > limit {
		head = head[:limit]
	}
	var order []uuid.UUID
	upto := make(map[uuid.UUID]time.Time)
	for _, row := range head {
		cur, ok := upto[row.AggregateID]
		if !ok {
			order = append(order, row.AggregateID)
		}
		if !ok || row.CreatedAt.After(cur) {
			upto[row.AggregateID] = row.CreatedAt
		}
	}

	// Prefijo de cada agregado en orden de creación, sin pasar de limit.
	byCreation := append([]*domain.Envelope(nil), pending...)
	sort.SliceStable(byCreation, func(i, j int) bool {
		a, b := byCreation[i], byCreation[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	var picked []*domain.Envelope
	for _, agg := range order {
		for _, row := range byCreation {
			if len(picked) >= limit {
				break
			}
			if row.AggregateID == agg && !row.CreatedAt.After(upto[agg]) {
				picked = append(picked, row)
			}
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return selectionLess(picked[i], picked[j]) })

	out := make([]domain.Envelope, 0, len(picked))
	for _, row := range picked {
		out = append(out, *row)
	}
	return out, nil
}

func (r *InMemoryOutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.find(id)
	if row == nil || row.PublishedAt != nil {
		return domain.ErrEnvelopeNotPending
	}
	ts := at.UTC()
	row.PublishedAt = &ts
	return nil
}

func (r *InMemoryOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.find(id)
	if row == nil || row.PublishedAt != nil {
		return domain.ErrEnvelopeNotPending
	}
	row.RetryCount++
	msg := reason
	row.LastError = &msg
	return nil
}

func (r *InMemoryOutboxRepo) PendingStats(ctx context.Context, failureThreshold int) (domain.PendingStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailFetch != nil {
		return domain.PendingStats{}, r.FailFetch
	}
	var stats domain.PendingStats
	for _, row := range r.rows {
		if row.PublishedAt != nil {
			continue
		}
		stats.Count++
		if row.RetryCount >= failureThreshold {
			stats.FailingCount++
		}
		if stats.OldestCreatedAt == nil || row.CreatedAt.Before(*stats.OldestCreatedAt) {
			ts := row.CreatedAt
			stats.OldestCreatedAt = &ts
		}
	}
	return stats, nil
}

func (r *InMemoryOutboxRepo) ListByAggregate(ctx context.Context, aggregateID uuid.UUID, eventType string, limit int) ([]domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Envelope
	for _, row := range r.rows {
		if row.AggregateID == aggregateID && (eventType == "" || row.EventType == eventType) {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return creationLess(&out[i], &out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get devuelve una copia de la fila, o error si no existe.
func (r *InMemoryOutboxRepo) Get(id uuid.UUID) (domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.find(id); row != nil {
		return *row, nil
	}
	return domain.Envelope{}, errors.New("not found")
}

// All devuelve una copia de todas las filas en orden de inserción.
func (r *InMemoryOutboxRepo) All() []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Envelope, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, *row)
	}
	return out
}

func (r *InMemoryOutboxRepo) find(id uuid.UUID) *domain.Envelope {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func selectionLess(a, b *domain.Envelope) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return creationLess(a, b)
}

func creationLess(a, b *domain.Envelope) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
