package av

import "sync"

// LineageLocker serializes writers per lineage inside one process.
// Entries are reference counted and dropped when the last holder unlocks,
// so the map only holds lineages that are being written right now.
type LineageLocker struct {
	mu    sync.Mutex
	locks map[string]*lineageLock
}

type lineageLock struct {
	mu   sync.Mutex
	refs int
}

// NewLineageLocker creates an empty locker.
func NewLineageLocker() *LineageLocker {
	return &LineageLocker{locks: make(map[string]*lineageLock)}
}

// Lock blocks until the lineage is free and returns the matching unlock func.
func (l *LineageLocker) Lock(rootID string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[rootID]
	if !ok {
		lk = &lineageLock{}
		l.locks[rootID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.mu.Unlock()

			l.mu.Lock()
			lk.refs--
			if lk.refs == 0 {
				delete(l.locks, rootID)
			}
			l.mu.Unlock()
		})
	}
}

// held returns the number of lineages with a holder or waiter.
func (l *LineageLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
