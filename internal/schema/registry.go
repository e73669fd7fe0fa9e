package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrUnknownVersion      = errors.New("unknown schema version")
	ErrInvalidVersion      = errors.New("schema version must be >= 1")
	ErrDuplicateVersion    = errors.New("schema version already registered")
	ErrIncompatibleVersion = errors.New("schema version not readable by consumer")
)

// Registry guarda un contrato por (event_type, versión). Se rellena al
// arrancar y después solo se lee.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[int]Contract
	latest  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]map[int]Contract),
		latest:  make(map[string]int),
	}
}

func (r *Registry) Register(eventType string, version int, c Contract) error {
	if eventType == "" {
		return fmt.Errorf("%w: empty event type", ErrUnknownEventType)
	}
	if version < 1 {
		return fmt.Errorf("%w: %s v%d", ErrInvalidVersion, eventType, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.entries[eventType]
	if !ok {
		versions = make(map[int]Contract)
		r.entries[eventType] = versions
	}
	if _, exists := versions[version]; exists {
		return fmt.Errorf("%w: %s v%d", ErrDuplicateVersion, eventType, version)
	}
	versions[version] = c
	if version > r.latest[eventType] {
		r.latest[eventType] = version
	}
	return nil
}

// MustRegister es para el catálogo estático: un error aquí es un bug de arranque.
func (r *Registry) MustRegister(eventType string, version int, c Contract) {
	if err := r.Register(eventType, version, c); err != nil {
		panic(err)
	}
}

// Latest devuelve la versión más alta registrada para el tipo.
func (r *Registry) Latest(eventType string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latest[eventType]
	return v, ok
}

func (r *Registry) Lookup(eventType string, version int) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.entries[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	c, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, eventType, version)
	}
	return c, nil
}

// Validate comprueba el payload contra la versión pedida; version 0 significa
// "la última". Devuelve la versión efectivamente usada.
func (r *Registry) Validate(eventType string, version int, payload []byte) (int, error) {
	if version == 0 {
		latest, ok := r.Latest(eventType)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
		}
		version = latest
	}
	if version < 0 {
		return 0, fmt.Errorf("%w: %s v%d", ErrInvalidVersion, eventType, version)
	}

	c, err := r.Lookup(eventType, version)
	if err != nil {
		return 0, err
	}
	if err := c.Validate(payload); err != nil {
		return 0, fmt.Errorf("%s v%d: %w", eventType, version, err)
	}
	return version, nil
}

// EventTypes lista los tipos registrados, ordenados.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Versions lista las versiones registradas de un tipo, ordenadas.
func (r *Registry) Versions(eventType string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int, 0, len(r.entries[eventType]))
	for v := range r.entries[eventType] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
