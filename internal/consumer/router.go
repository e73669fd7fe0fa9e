package consumer

import (
	"context"
	"fmt"

	"github.com/davicafu/eventrelay/internal/shared/events"
)

// Router despacha cada tipo de evento a un handler tipado.
type Router struct {
	routes map[string]func(ctx context.Context, env events.Envelope, evt events.DomainEvent) error
}

var _ Handler = (*Router)(nil)

func NewRouter() *Router {
	return &Router{routes: make(map[string]func(context.Context, events.Envelope, events.DomainEvent) error)}
}

// On registra fn para eventType. T debe ser la variante que events.Decode
// devuelve para ese tipo.
func On[T events.DomainEvent](r *Router, eventType string, fn func(ctx context.Context, env events.Envelope, evt T) error) {
	r.routes[eventType] = func(ctx context.Context, env events.Envelope, evt events.DomainEvent) error {
		typed, ok := evt.(T)
		if !ok {
			return fmt.Errorf("route %s: unexpected variant %T", eventType, evt)
		}
		return fn(ctx, env, typed)
	}
}

func (r *Router) Handle(ctx context.Context, env events.Envelope, evt events.DomainEvent) error {
	fn, ok := r.routes[env.EventType]
	if !ok {
		return nil
	}
	return fn(ctx, env, evt)
}

// EventTypes lista los tipos con ruta registrada.
func (r *Router) EventTypes() []string {
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	return out
}
