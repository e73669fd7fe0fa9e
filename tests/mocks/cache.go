package mocks

import (
	"context"
	"encoding/json"
	"sync"

	sharedCache "github.com/davicafu/eventrelay/internal/shared/infra/platform/cache"
)

// DummyCache guarda entradas sin expiración y cuenta accesos. FailGet
// simula una caché caída en lectura.
type DummyCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	Sets    int
	Hits    int
	FailGet error
}

var _ sharedCache.Cache = (*DummyCache)(nil)

func NewDummyCache() *DummyCache {
	return &DummyCache{entries: make(map[string]json.RawMessage)}
}

func (c *DummyCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailGet != nil {
		return false, c.FailGet
	}
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.Hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *DummyCache) Set(_ context.Context, key string, val interface{}, _ int) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.Sets++
	c.mu.Unlock()
	return nil
}

func (c *DummyCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
