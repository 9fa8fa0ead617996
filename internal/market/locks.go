package market

import "sync"

// Locks serializes mutations per market: one writer per market at a time,
// with no cross-market coupling. Every mutating service takes the market's
// lock before opening its transaction.
type Locks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewLocks creates an empty lock manager.
func NewLocks() *Locks {
	return &Locks{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the market's write lock and returns the unlock function.
func (l *Locks) Lock(marketID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[marketID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[marketID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
