package kv

import (
	"context"
	"sync"
	"time"

	"soulid/pkg/platform/sentinel"
)

// InMemory keeps the substrate in a map. Update holds a single writer lock
// for the whole transaction and applies buffered writes under the data lock,
// so View callbacks see either all of a transaction or none of it.
type InMemory struct {
	writer  sync.Mutex
	mu      sync.RWMutex
	data    map[string][]byte
	timeout time.Duration
}

// NewInMemory constructs an empty in-memory substrate.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string][]byte)}
}

func (s *InMemory) View(ctx context.Context, fn func(txn Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryView{data: s.data})
}

func (s *InMemory) Update(ctx context.Context, fn func(txn Txn) error) error {
	ctx, cancel, err := withTxTimeout(ctx, s.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := &memoryTxn{store: s, writes: newWriteSet()}
	if err := fn(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range txn.writes.order {
		if v := txn.writes.values[key]; v != nil {
			s.data[key] = v
		} else {
			delete(s.data, key)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memoryView struct {
	data map[string][]byte
}

func (v *memoryView) Get(key string) ([]byte, error) {
	val, ok := v.data[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte{}, val...), nil
}

func (v *memoryView) Put(string, []byte) error { return sentinel.ErrReadOnly }

func (v *memoryView) Delete(string) error { return sentinel.ErrReadOnly }

type memoryTxn struct {
	store  *InMemory
	writes *writeSet
}

func (t *memoryTxn) Get(key string) ([]byte, error) {
	if v, found, err := t.writes.lookup(key); found {
		return v, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	val, ok := t.store.data[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte{}, val...), nil
}

func (t *memoryTxn) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	t.writes.put(key, value)
	return nil
}

func (t *memoryTxn) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	t.writes.del(key)
	return nil
}
