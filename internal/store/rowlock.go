package store

import "sync"

// RowLocks hands out exclusive locks keyed by row key. A row does not need
// to exist to be locked, which lets an upsert hold the lock of the row it is
// about to create. Entries are dropped once nobody holds or waits on them.
type RowLocks struct {
	mu   sync.Mutex
	rows map[string]*rowLock
}

type rowLock struct {
	mu   sync.Mutex
	refs int
}

// NewRowLocks creates an empty lock table.
func NewRowLocks() *RowLocks {
	return &RowLocks{rows: make(map[string]*rowLock)}
}

// Lock acquires the locks for keys in the order given and returns a function
// releasing them in reverse order. Callers must use a consistent key order
// across code paths (order, then wallet, then holding).
func (l *RowLocks) Lock(keys ...string) (unlock func()) {
	held := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		l.acquire(k).Lock()
		held = append(held, k)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				l.release(held[i])
			}
		})
	}
}

func (l *RowLocks) acquire(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.rows[key]
	if !ok {
		rl = &rowLock{}
		l.rows[key] = rl
	}
	rl.refs++
	return &rl.mu
}

func (l *RowLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.rows[key]
	rl.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.rows, key)
	}
}

// size returns the number of live lock entries. Used by tests.
func (l *RowLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
