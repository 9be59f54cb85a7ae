package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	expireAt time.Time
}

type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (v *MemoryLedger) Lookup(_ context.Context, key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.entries[key]
	if !ok {
		return "", false, nil
	}
	if v.now().After(entry.expireAt) {
		delete(v.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (v *MemoryLedger) Remember(_ context.Context, key, value string, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if entry, ok := v.entries[key]; ok && !now.After(entry.expireAt) {
		return nil
	}
	v.entries[key] = memoryEntry{value: value, expireAt: now.Add(ttl)}
	v.sweep(now)
	return nil
}

func (v *MemoryLedger) sweep(now time.Time) {
	if len(v.entries) < 1024 {
		return
	}
	for k, entry := range v.entries {
		if now.After(entry.expireAt) {
			delete(v.entries, k)
		}
	}
}
