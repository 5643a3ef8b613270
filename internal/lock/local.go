package lock

import (
	"context"
	"sync"
)

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu   sync.Mutex
	sems map[string]*localSem
}

// localSem is a one-slot semaphore shared by every holder and waiter of a name.
// The entry is dropped once refs reaches zero.
type localSem struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sems: make(map[string]*localSem)}
}

func (l *LocalLocker) ref(name string) *localSem {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[name]
	if !ok {
		sem = &localSem{ch: make(chan struct{}, 1)}
		l.sems[name] = sem
	}
	sem.refs++
	return sem
}

func (l *LocalLocker) unref(name string, sem *localSem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem.refs--
	if sem.refs == 0 {
		delete(l.sems, name)
	}
}

// Acquire blocks until name is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sem := l.ref(name)
	select {
	case sem.ch <- struct{}{}:
		return &localHandle{locker: l, name: name, sem: sem}, nil
	case <-ctx.Done():
		l.unref(name, sem)
		return nil, ctx.Err()
	}
}

type localHandle struct {
	locker *LocalLocker
	name   string
	sem    *localSem
	once   sync.Once
}

func (h *localHandle) Release(context.Context) error {
	h.once.Do(func() {
		<-h.sem.ch
		h.locker.unref(h.name, h.sem)
	})
	return nil
}
