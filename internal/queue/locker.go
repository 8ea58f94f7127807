package queue

import (
	"context"
	"sync"
)

// Locker serialises ticket creation per day key. Unlock must be safe to
// call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker guards each day with an in-process semaphore. It only
// serialises callers inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	days map[string]*dayLock
}

type dayLock struct {
	sem     chan struct{}
	holders int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{days: make(map[string]*dayLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.days[key]
	if !ok {
		lock = &dayLock{sem: make(chan struct{}, 1)}
		l.days[key] = lock
	}
	lock.holders++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.release(key, lock)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lock *dayLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.holders--
	if lock.holders == 0 {
		delete(l.days, key)
	}
}
