package telemetry

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache used by tests.
type MemoryCache struct {
	mu     sync.Mutex
	states map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: make(map[string]string)}
}

func (c *MemoryCache) GetState(ctx context.Context, deviceID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[deviceID], nil
}

func (c *MemoryCache) SetState(ctx context.Context, deviceID, stateName string, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[deviceID] = stateName
	return nil
}
