package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// InMemoryDeduper sirve para un solo proceso; se pierde al reiniciar.
type InMemoryDeduper struct {
	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

var _ Deduper = (*InMemoryDeduper)(nil)

func NewInMemoryDeduper() *InMemoryDeduper {
	return &InMemoryDeduper{seen: make(map[uuid.UUID]struct{})}
}

func (d *InMemoryDeduper) Seen(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok, nil
}

func (d *InMemoryDeduper) MarkProcessed(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = struct{}{}
	return nil
}

// RedisDeduper guarda una clave con expiración por evento aplicado. El TTL debe cubrir la ventana en
// la que el broker puede volver a entregar un mensaje.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(client *redis.Client, group string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "eventrelay:consumer:" + group + ":", ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	err := d.client.Set(ctx, d.prefix+id.String(), time.Now().UTC().Format(time.RFC3339Nano), d.ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// InMemoryVersionTracker guarda la última versión aplicada por clave.
type InMemoryVersionTracker struct {
	mu   sync.Mutex
	last map[string]int64
}

var _ VersionTracker = (*InMemoryVersionTracker)(nil)

func NewInMemoryVersionTracker() *InMemoryVersionTracker {
	return &InMemoryVersionTracker{last: make(map[string]int64)}
}

func (t *InMemoryVersionTracker) Stale(_ context.Context, key string, version int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.last[key]
	return ok && version <= cur, nil
}

func (t *InMemoryVersionTracker) Advance(_ context.Context, key string, version int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.last[key]; !ok || version > cur {
		t.last[key] = version
	}
	return nil
}
