package utils

import (
	"context"
	"time"
)

// Retry ejecuta fn hasta que devuelve nil. attempts <= 0 reintenta hasta que
// se cancele el contexto. La espera se duplica en cada fallo sin pasar de maxDelay.
func Retry(ctx context.Context, attempts int, delay, maxDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempts > 0 && i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			// espera antes del siguiente intento
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if delay *= 2; maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
