// Package locks implements per-id serialization for the replication engine:
// the read-of-local-state + decision + write sequence for a given id must
// be atomic with respect to other replications of the same id, while
// different ids stay fully parallel (see the engine's concurrency model).
package locks

import "sync"

// Table is an in-process striped lock keyed by id. A zero Table is ready
// to use.
type Table struct {
	mu    sync.Mutex
	byID  map[string]*refcounted
}

type refcounted struct {
	mu  sync.Mutex
	ref int
}

// New returns a ready-to-use Table.
func New() *Table {
	return &Table{byID: make(map[string]*refcounted)}
}

// Lock acquires the lock for id, blocking until it is available, and
// returns a function that releases it. Callers must call the returned
// function exactly once, typically via defer.
func (t *Table) Lock(id string) func() {
	t.mu.Lock()
	if t.byID == nil {
		t.byID = make(map[string]*refcounted)
	}
	entry, ok := t.byID[id]
	if !ok {
		entry = &refcounted{}
		t.byID[id] = entry
	}
	entry.ref++
	t.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		t.mu.Lock()
		entry.ref--
		if entry.ref == 0 {
			delete(t.byID, id)
		}
		t.mu.Unlock()
	}
}
