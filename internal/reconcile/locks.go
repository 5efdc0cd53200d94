package reconcile

import (
	"sync"
	"time"
)

// minuteLocks is an in-process advisory lock per minute. Entries are
// reference counted and dropped once unused.
type minuteLocks struct {
	mu    sync.Mutex
	locks map[time.Time]*minuteLock
}

type minuteLock struct {
	mu   sync.Mutex
	refs int
}

func newMinuteLocks() *minuteLocks {
	return &minuteLocks{locks: make(map[time.Time]*minuteLock)}
}

// lockWindow locks minute and both neighbours, always in ascending order so
// overlapping windows cannot deadlock. The returned func unlocks them.
func (l *minuteLocks) lockWindow(minute time.Time) func() {
	keys := []time.Time{minute.Add(-time.Minute), minute, minute.Add(time.Minute)}
	held := make([]*minuteLock, 0, len(keys))
	for _, k := range keys {
		ml := l.acquire(k)
		ml.mu.Lock()
		held = append(held, ml)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i])
		}
	}
}

func (l *minuteLocks) acquire(k time.Time) *minuteLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ml, ok := l.locks[k]
	if !ok {
		ml = &minuteLock{}
		l.locks[k] = ml
	}
	ml.refs++
	return ml
}

func (l *minuteLocks) release(k time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ml := l.locks[k]
	ml.refs--
	if ml.refs == 0 {
		delete(l.locks, k)
	}
}

func (l *minuteLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
