package registry

import (
	"context"
	"sync"
)

// MemoryProvider is an in-process, map-backed Provider.
type MemoryProvider struct {
	mu      sync.RWMutex
	devices map[string]Device
}

func NewMemoryProvider(devices ...Device) *MemoryProvider {
	m := &MemoryProvider{devices: make(map[string]Device)}
	for _, d := range devices {
		m.devices[d.DeviceID] = d
	}
	return m
}

func (m *MemoryProvider) ListProvisioned(ctx context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryProvider) Get(ctx context.Context, deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
