// Package lock provides the per-key critical sections used to serialize
// mutations of a single inventory item.
package lock

import (
	"context"
	"sync"
)

// Locker grants exclusive access to a key. Release must be called exactly once
// after a successful Acquire.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ItemKey is the lock key guarding an inventory item and its batches.
func ItemKey(itemID string) string {
	return "item:" + itemID
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted and
// removed once no goroutine holds or waits for the key.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// size reports the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
