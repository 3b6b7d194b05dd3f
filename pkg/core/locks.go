package core

import "sync"

type lockKey struct {
	collection string
	id         string
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out one exclusive lock per (collection, id). Entries are
// dropped once nobody holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[lockKey]*keyedMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[lockKey]*keyedMutex)}
}

// Lock blocks until the key is free and returns the matching unlock.
func (t *lockTable) Lock(collection, id string) func() {
	key := lockKey{collection, id}

	t.mu.Lock()
	m, ok := t.locks[key]
	if !ok {
		m = &keyedMutex{}
		t.locks[key] = m
	}
	m.refs++
	t.mu.Unlock()

	m.mu.Lock()

	return func() {
		m.mu.Unlock()
		t.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// Len returns the number of live lock entries.
func (t *lockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
