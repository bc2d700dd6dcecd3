// internal/cache/keyed_mutex.go
package cache

import "sync"

// KeyedMutex hands out one lock per key and forgets keys nobody holds.
type KeyedMutex struct {
    mu    sync.Mutex
    locks map[string]*refLock
}

type refLock struct {
    sync.Mutex
    refs int
}

func NewKeyedMutex() *KeyedMutex {
    return &KeyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
    k.mu.Lock()
    l, ok := k.locks[key]
    if !ok {
        l = &refLock{}
        k.locks[key] = l
    }
    l.refs++
    k.mu.Unlock()

    l.Lock()
    return func() {
        l.Unlock()
        k.mu.Lock()
        l.refs--
        if l.refs == 0 {
            delete(k.locks, key)
        }
        k.mu.Unlock()
    }
}
