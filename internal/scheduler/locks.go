package scheduler

import (
	"context"
	"sync"

	"system-toolbox/internal/safety"
)

// rootLocks keeps two cleans from working on overlapping locations at the
// same time, whether they come from one session or several (API requests
// and the interval loop). Before/after accounting is only correct while a
// root has a single cleaner.
type rootLocks struct {
	mu      sync.Mutex
	held    map[*lease]struct{}
	changed chan struct{}
}

type lease struct {
	keys []string
}

var locks = newRootLocks()

func newRootLocks() *rootLocks {
	return &rootLocks{
		held:    make(map[*lease]struct{}),
		changed: make(chan struct{}),
	}
}

// acquire blocks until no held lease overlaps keys or ctx ends. wait is
// called once if the caller has to queue.
func (l *rootLocks) acquire(ctx context.Context, keys []string, wait func(holder []string)) (release func(), err error) {
	announced := false
	for {
		l.mu.Lock()
		holder := l.conflict(keys)
		if holder == nil {
			ls := &lease{keys: keys}
			l.held[ls] = struct{}{}
			l.mu.Unlock()
			return func() { l.release(ls) }, nil
		}
		changed := l.changed
		l.mu.Unlock()

		if !announced && wait != nil {
			wait(holder.keys)
			announced = true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// conflict must be called with mu held.
func (l *rootLocks) conflict(keys []string) *lease {
	for ls := range l.held {
		for _, a := range ls.keys {
			for _, b := range keys {
				if safety.PathsOverlap(a, b) {
					return ls
				}
			}
		}
	}
	return nil
}

func (l *rootLocks) release(ls *lease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[ls]; !ok {
		return
	}
	delete(l.held, ls)
	close(l.changed)
	l.changed = make(chan struct{})
}
