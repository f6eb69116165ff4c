package settlement

import (
	"context"
	"sync"
)

// Lanes serializes work per transaction number. Each active key owns a
// single-slot channel; holding the slot is holding the ticket.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

// NewLanes creates an empty lane registry
func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[string]*lane)}
}

// Do runs fn while holding the lane for key. It waits for the lane or for ctx.
func (l *Lanes) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ln := l.acquire(key)
	defer l.release(key, ln)

	select {
	case ln.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ln.slot }()

	return fn(ctx)
}

// Active reports how many keys currently have holders or waiters
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

func (l *Lanes) acquire(key string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	return ln
}

func (l *Lanes) release(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}
