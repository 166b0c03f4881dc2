package breadcrumb

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	lock    sync.RWMutex
	crumbs  map[string]Crumb
	nowTime func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(nowTime func() time.Time) *MemoryStore {
	if nowTime == nil {
		nowTime = time.Now
	}
	return &MemoryStore{crumbs: make(map[string]Crumb), nowTime: nowTime}
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.crumbs[key] = Crumb{Key: key, Value: value, At: m.nowTime()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Crumb, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	c, ok := m.crumbs[key]
	return c, ok, nil
}

// All returns every crumb ordered by key.
func (m *MemoryStore) All(_ context.Context) ([]Crumb, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	out := make([]Crumb, 0, len(m.crumbs))
	for _, c := range m.crumbs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
