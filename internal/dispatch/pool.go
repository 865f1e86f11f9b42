// Package dispatch runs units of work on a fixed set of worker goroutines
// fed by a bounded queue. Units are submitted in named groups so a caller
// can wait for, inspect, or revoke all work belonging to one job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("dispatch pool is closed")

	// ErrGroupSealed is returned when submitting to a sealed group.
	ErrGroupSealed = errors.New("dispatch group is sealed")

	// ErrGroupRevoked is returned when submitting to a revoked group.
	ErrGroupRevoked = errors.New("dispatch group is revoked")

	// ErrGroupExists is returned when a group id is already in use.
	ErrGroupExists = errors.New("dispatch group already exists")
)

// Task is one unit of work. The context is cancelled when the pool is
// stopped forcibly.
type Task func(ctx context.Context) error

type unit struct {
	group *Group
	task  Task
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Revoked   int64 `json:"revoked"`
	Groups    int   `json:"groups"`
}

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
	queue   chan unit

	ctx      context.Context
	cancel   context.CancelFunc
	eg       *errgroup.Group
	stopping chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool
	groups map[string]*Group

	// senders counts enqueue calls past the closed check. Stop waits for
	// them before closing the queue.
	senders sync.WaitGroup

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	revoked   atomic.Int64
}

// NewPool starts workers goroutines draining a queue of queueSize units.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:  workers,
		queue:    make(chan unit, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		eg:       &errgroup.Group{},
		stopping: make(chan struct{}),
		groups:   make(map[string]*Group),
	}

	for i := 0; i < workers; i++ {
		p.eg.Go(func() error {
			p.work()
			return nil
		})
	}
	return p
}

func (p *Pool) work() {
	for u := range p.queue {
		if u.group.isRevoked() {
			p.revoked.Add(1)
			u.group.finish()
			continue
		}
		p.run(u)
	}
}

func (p *Pool) run(u unit) {
	p.running.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in dispatched task",
				"group", u.group.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			p.failed.Add(1)
		}
		p.running.Add(-1)
		u.group.finish()
	}()

	if err := u.task(p.ctx); err != nil {
		p.failed.Add(1)
		slog.Warn("dispatched task failed", "group", u.group.id, "error", err)
		return
	}
	p.completed.Add(1)
}

// NewGroup registers a group of units under id.
func (p *Pool) NewGroup(id string) (*Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if _, ok := p.groups[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupExists, id)
	}

	g := &Group{id: id, pool: p, done: make(chan struct{})}
	p.groups[id] = g
	return g, nil
}

// Group returns a registered group.
func (p *Pool) Group(id string) (*Group, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.groups[id]
	return g, ok
}

// Release forgets a group. Units still queued keep running.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	delete(p.groups, id)
	p.mu.Unlock()
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	groups := len(p.groups)
	p.mu.RUnlock()

	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Revoked:   p.revoked.Load(),
		Groups:    groups,
	}
}

// Stop refuses new units and waits for queued and running units to finish.
// If ctx expires first, running tasks see their context cancelled and Stop
// returns ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopping)
		p.senders.Wait()
		close(p.queue)
	})

	done := make(chan struct{})
	go func() {
		_ = p.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// enqueue sends u to the queue. The lock only guards the closed check so a
// sender blocked on a full queue never holds up group registration.
func (p *Pool) enqueue(ctx context.Context, u unit) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	select {
	case p.queue <- u:
		return nil
	case <-p.stopping:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Group tracks the units submitted under one id. It is done once it is
// sealed and every submitted unit has finished or been revoked.
type Group struct {
	id   string
	pool *Pool

	mu        sync.Mutex
	submitted int
	finished  int
	sealed    bool
	revoked   bool
	done      chan struct{}
	closed    bool
}

// ID returns the group id.
func (g *Group) ID() string {
	return g.id
}

// Submit queues task, blocking while the queue is full.
func (g *Group) Submit(ctx context.Context, task Task) error {
	g.mu.Lock()
	switch {
	case g.revoked:
		g.mu.Unlock()
		return ErrGroupRevoked
	case g.sealed:
		g.mu.Unlock()
		return ErrGroupSealed
	}
	g.submitted++
	g.mu.Unlock()

	if err := g.pool.enqueue(ctx, unit{group: g, task: task}); err != nil {
		g.mu.Lock()
		g.submitted--
		g.checkDone()
		g.mu.Unlock()
		return err
	}
	return nil
}

// Seal marks the end of submissions.
func (g *Group) Seal() {
	g.mu.Lock()
	g.sealed = true
	g.checkDone()
	g.mu.Unlock()
}

// Revoke discards units of the group that have not started. Running units
// are not interrupted. Revoke also seals the group.
func (g *Group) Revoke() {
	g.mu.Lock()
	g.revoked = true
	g.sealed = true
	g.checkDone()
	g.mu.Unlock()
}

// Done is closed when the group has finished.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Ready reports whether the group has finished.
func (g *Group) Ready() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Pending returns the number of submitted units that have not finished.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitted - g.finished
}

func (g *Group) isRevoked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revoked
}

func (g *Group) finish() {
	g.mu.Lock()
	g.finished++
	g.checkDone()
	g.mu.Unlock()
}

// checkDone must be called with mu held.
func (g *Group) checkDone() {
	if g.closed || !g.sealed || g.finished < g.submitted {
		return
	}
	g.closed = true
	close(g.done)
}
