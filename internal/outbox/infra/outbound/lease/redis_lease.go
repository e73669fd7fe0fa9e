package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
)

// acquireScript renueva la lease si ya es nuestra o la toma si está libre.
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if cur == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript sólo borra la clave si el token sigue siendo el nuestro.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease es una lease de publicador con expiración. El ciclo del
// Publisher la llama en cada vuelta, así que el TTL debe superar con margen
// el intervalo de sondeo más la duración de un lote.
type RedisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

var _ domain.Lease = (*RedisLease)(nil)

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) (*RedisLease, error) {
	if key == "" {
		return nil, errors.New("lease key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}
	return &RedisLease{client: client, key: key, token: uuid.NewString(), ttl: ttl}, nil
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Token identifica a esta instancia como titular.
func (l *RedisLease) Token() string { return l.token }
