package internal

import "sync"

// KeyedMutex serializes read-modify-write sequences on a per-key basis.
// Credential updates (refresh token append, backup code consumption) go
// through the owning user's lock so concurrent requests cannot lose
// updates between load and save.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex ready for use.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its unlock function.
// Lock entries are reference counted and removed once unused, so the
// map does not grow with the number of distinct keys ever seen.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// entryCount reports how many keys currently hold a lock entry.
func (k *KeyedMutex) entryCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
