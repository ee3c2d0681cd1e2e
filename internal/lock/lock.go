// Package lock serializes stock mutations per product. Keys are always taken
// in sorted order, so two checkouts sharing products cannot deadlock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrBusy = errors.New("resource busy, try again")

type Unlock func()

type Locker interface {
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

func ProductKey(tenantID string, productID string) string {
	return fmt.Sprintf("pos:lock:%s:%s", tenantID, productID)
}

func sortedUnique(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := set[k]; dup || k == "" {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type slot struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is the in-process Locker used when no Redis is configured.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (m *KeyedMutex) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		s := m.acquireSlot(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			m.releaseSlot(key, false)
			m.unlock(held)
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(func() { m.unlock(held) }) }, nil
}

func (m *KeyedMutex) acquireSlot(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *KeyedMutex) releaseSlot(key string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	if locked {
		<-s.ch
	}
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *KeyedMutex) unlock(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.releaseSlot(keys[i], true)
	}
}
