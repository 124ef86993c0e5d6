package lock

import (
	"context"
	"sync"
)

// Local is an in-process keyed mutex. It serializes callers within one
// process only.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock implements Locker. It gives up when ctx is done.
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))

	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.release(acquired[i])
		}
	}

	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key, s)
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	if s == nil {
		return
	}
	<-s.ch
	l.drop(key, s)
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
