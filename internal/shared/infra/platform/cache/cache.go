package cache

import (
	"context"
	"strings"
)

// Cache es una caché clave-valor genérica con serialización JSON.
type Cache interface {
	// Get rellena dest (puntero) si hay hit. (false, nil) es un miss.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set guarda el valor con un TTL en segundos; 0 usa el TTL por defecto del backend.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error

	Delete(ctx context.Context, key string) error
}

// Key compone una clave con espacio de nombres: Key("outbox", "health") => "eventrelay:outbox:health".
func Key(parts ...string) string {
	return "eventrelay:" + strings.Join(parts, ":")
}
