package storage

import (
	"context"
	"sync"
)

// Memory keeps documents in process memory. It counts saves so callers can
// observe write behaviour.
type Memory struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves int
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (m *Memory) Save(_ context.Context, name string, contents []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = append([]byte(nil), contents...)
	m.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ Persistence = (*Memory)(nil)
