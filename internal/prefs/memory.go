package prefs

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps preferences in process memory. Used for state.backend=memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]json.RawMessage)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) (json.RawMessage, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, value json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = append(json.RawMessage(nil), value...)
	return nil
}
