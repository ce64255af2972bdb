// Package lock serializes read-modify-write cycles on a single record.
//
// Every mutation of a user or message record takes the record's key first, so
// concurrent reactions, votes, debits and file operations cannot lose updates.
package lock

import (
	"context"
	"sync"
)

// Locker acquires exclusive ownership of a key. The returned function releases
// it and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// UserKey is the lock key for a user record.
func UserKey(address string) string { return "user:" + address }

// MessageKey is the lock key for a message record.
func MessageKey(id string) string { return "message:" + id }

// Memory is a process-local keyed mutex.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an empty keyed mutex.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, s, true) })
	}, nil
}

func (m *Memory) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	m.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
	m.mu.Unlock()
}

// Held reports how many keys currently have holders or waiters.
func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

var _ Locker = (*Memory)(nil)
