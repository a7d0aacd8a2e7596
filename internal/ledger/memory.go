package ledger

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is an in-process Store. It counts calls and tracks the peak
// number of concurrent operations, which makes it the store of choice in tests
// and for dry runs.
type MemoryStore struct {
	// Delay is applied inside every operation while it is counted as in flight.
	Delay time.Duration

	mu         sync.RWMutex
	objects    map[string]Object
	generation int64
	now        func() time.Time

	gets     atomic.Int64
	heads    atomic.Int64
	puts     atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]Object),
		now:     time.Now,
	}
}

func (m *MemoryStore) enter(ctx context.Context) error {
	n := m.inFlight.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	return nil
}

func (m *MemoryStore) leave() {
	m.inFlight.Add(-1)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	m.gets.Add(1)
	defer m.leave()
	if err := m.enter(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	body := make([]byte, len(obj.Body))
	copy(body, obj.Body)
	return &Object{Key: key, Body: body, Version: obj.Version, LastModified: obj.LastModified}, nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (*Object, error) {
	m.heads.Add(1)
	defer m.leave()
	if err := m.enter(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Key: key, Version: obj.Version, LastModified: obj.LastModified}, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte) error {
	m.puts.Add(1)
	defer m.leave()
	if err := m.enter(ctx); err != nil {
		return err
	}

	stored := make([]byte, len(body))
	copy(stored, body)

	m.mu.Lock()
	defer m.mu.Unlock()
	modified := m.now().UTC()
	if prev, ok := m.objects[key]; ok && !modified.After(prev.LastModified) {
		modified = prev.LastModified.Add(time.Millisecond)
	}
	m.generation++
	m.objects[key] = Object{
		Key:          key,
		Body:         stored,
		Version:      strconv.FormatInt(m.generation, 10),
		LastModified: modified,
	}
	return nil
}

// Keys returns every stored key.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStore) Gets() int64 { return m.gets.Load() }
func (m *MemoryStore) Heads() int64 { return m.heads.Load() }
func (m *MemoryStore) Puts() int64  { return m.puts.Load() }

// PeakConcurrency is the highest number of operations observed in flight at once.
func (m *MemoryStore) PeakConcurrency() int64 { return m.peak.Load() }
