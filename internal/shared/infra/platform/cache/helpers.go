package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncWriteTimeout = 200 * time.Millisecond

// AsyncCacheSet actualiza la caché en background sin bloquear al llamante.
// Usa su propio contexto: la escritura debe completarse aunque la petición
// original ya haya terminado.
func AsyncCacheSet(c Cache, key string, value interface{}, ttlSecs int, log *zap.Logger) {
	if c == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if err := c.Set(ctx, key, value, ttlSecs); err != nil {
			log.Warn("⚠️ Cache update failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// AsyncCacheDelete invalida una clave en background.
func AsyncCacheDelete(c Cache, key string, log *zap.Logger) {
	if c == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if err := c.Delete(ctx, key); err != nil {
			log.Warn("⚠️ Cache deletion failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
