package store

import (
	"context"
	"sync"
)

// Memory keeps documents in process. It is used by tests and by commands
// that only need a scratch store.
type Memory struct {
	*lifecycle
	*notifier

	mu     sync.RWMutex
	area   Area
	values map[string][]byte
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns a store that is already Ready.
func NewMemory(area Area) *Memory {
	m := NewLoadingMemory(area)
	m.markReady(nil)
	return m
}

// NewLoadingMemory returns a store that stays Loading until MarkReady.
func NewLoadingMemory(area Area) *Memory {
	if area == "" {
		area = AreaLocal
	}
	return &Memory{
		lifecycle: newLifecycle(),
		notifier:  newNotifier(),
		area:      area,
		values:    make(map[string][]byte),
	}
}

func (m *Memory) MarkReady(err error) {
	m.markReady(err)
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()

	m.publish(Change{Key: key, Area: m.area})
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, existed := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()

	if existed {
		m.publish(Change{Key: key, Area: m.area})
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notifier.close()
	return nil
}
