package storage

import (
	"context"
	"sort"
	"sync"
)

// Maps is a set of named string maps shared by every session of a service.
type Maps interface {
	Get(ctx context.Context, mapName, key string) (string, bool, error)
	Put(ctx context.Context, mapName, key, value string) error
	Remove(ctx context.Context, mapName, key string) (bool, error)
	Keys(ctx context.Context, mapName string) ([]string, error)
	// Names lists the maps holding at least one entry, sorted.
	Names(ctx context.Context) ([]string, error)
}

// MemoryMaps keeps named maps in process memory.
type MemoryMaps struct {
	mu   sync.RWMutex
	maps map[string]map[string]string
}

// NewMemoryMaps returns empty in-memory maps.
func NewMemoryMaps() *MemoryMaps {
	return &MemoryMaps{maps: make(map[string]map[string]string)}
}

func (m *MemoryMaps) Get(_ context.Context, mapName, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.maps[mapName][key]
	return v, ok, nil
}

func (m *MemoryMaps) Put(_ context.Context, mapName, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.maps[mapName]
	if !ok {
		kv = make(map[string]string)
		m.maps[mapName] = kv
	}
	kv[key] = value
	return nil
}

func (m *MemoryMaps) Remove(_ context.Context, mapName, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.maps[mapName]
	if !ok {
		return false, nil
	}
	if _, ok := kv[key]; !ok {
		return false, nil
	}
	delete(kv, key)
	if len(kv) == 0 {
		delete(m.maps, mapName)
	}
	return true, nil
}

func (m *MemoryMaps) Keys(_ context.Context, mapName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.maps[mapName]))
	for k := range m.maps[mapName] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryMaps) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.maps))
	for name := range m.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// FileMaps stores each named map as one document under maps/<name>.json.
// A map whose last entry is removed loses its document.
type FileMaps struct {
	mu    sync.Mutex
	store *Storage
}

// NewFileMaps returns maps persisted in s.
func NewFileMaps(s *Storage) *FileMaps {
	return &FileMaps{store: s}
}

func mapPath(name string) []string { return []string{"maps", name} }

func (f *FileMaps) load(ctx context.Context, mapName string) (map[string]string, error) {
	kv := map[string]string{}
	if err := f.store.Get(ctx, mapPath(mapName), &kv); err != nil && err != ErrNotFound {
		return nil, err
	}
	return kv, nil
}

func (f *FileMaps) Get(ctx context.Context, mapName, key string) (string, bool, error) {
	kv, err := f.load(ctx, mapName)
	if err != nil {
		return "", false, err
	}
	v, ok := kv[key]
	return v, ok, nil
}

func (f *FileMaps) Put(ctx context.Context, mapName, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv := map[string]string{}
	return f.store.Update(ctx, mapPath(mapName), &kv, func() error {
		kv[key] = value
		return nil
	})
}

func (f *FileMaps) Remove(ctx context.Context, mapName, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.store.Exists(ctx, mapPath(mapName)) {
		return false, nil
	}
	removed := false
	kv := map[string]string{}
	err := f.store.Update(ctx, mapPath(mapName), &kv, func() error {
		_, removed = kv[key]
		delete(kv, key)
		return nil
	})
	if err != nil {
		return removed, err
	}
	if len(kv) == 0 {
		return removed, f.store.Delete(ctx, mapPath(mapName))
	}
	return removed, nil
}

func (f *FileMaps) Keys(ctx context.Context, mapName string) ([]string, error) {
	kv, err := f.load(ctx, mapName)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileMaps) Names(ctx context.Context) ([]string, error) {
	return f.store.List(ctx, []string{"maps"})
}
