package services

import "sync"

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedLocker hands out one mutex per key and forgets it when nobody holds it anymore.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

func (v *keyedLocker) Lock(key string) func() {
	v.mu.Lock()
	lock, ok := v.locks[key]
	if !ok {
		lock = &refLock{}
		v.locks[key] = lock
	}
	lock.refs++
	v.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		v.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(v.locks, key)
		}
		v.mu.Unlock()
	}
}
