package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool hands out transfer slots keyed by provider, enforcing each provider's
// concurrency ceiling across every goroutine in the process. Acquisition is
// fair: waiters are served in arrival order, so a burst of requests against a
// small limit cannot starve any single request.
type Pool struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewPool builds an empty pool. Semaphores are created lazily on first
// acquisition for a key.
func NewPool() *Pool {
	return &Pool{sems: make(map[string]*semaphore.Weighted)}
}

// Acquire blocks until a slot for key is free or ctx is done. A limit of zero
// or less means the provider is unthrottled and the returned slot is a no-op.
// The limit is fixed on the first acquisition for a key; later calls with a
// different limit reuse the existing semaphore.
func (p *Pool) Acquire(ctx context.Context, key string, limit int) (*Slot, error) {
	if limit <= 0 {
		return &Slot{}, nil
	}

	sem := p.semFor(key, limit)

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return &Slot{sem: sem}, nil
}

func (p *Pool) semFor(key string, limit int) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	sem, ok := p.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		p.sems[key] = sem
	}

	return sem
}

// Slot is a held transfer slot. Release is idempotent, so deferred and
// explicit releases can coexist on error paths.
type Slot struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the slot to its pool.
func (s *Slot) Release() {
	s.once.Do(func() {
		if s.sem != nil {
			s.sem.Release(1)
		}
	})
}
