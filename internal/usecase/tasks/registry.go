// Package tasks tracks detached per-connection tasks so shutdown can stop
// admitting new work and wait for in-flight work to finish.
package tasks

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// Handle is a joinable reference to one registered task.
type Handle struct {
	id   uint64
	name string
	done chan struct{}
}

// Name returns the name the task was registered with.
func (h *Handle) Name() string { return h.name }

// Done is closed once the task function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task function has returned.
func (h *Handle) Wait() { <-h.done }

// Registry is a goroutine-safe set of running tasks. Registration, completion
// and closing are serialised by a single mutex.
type Registry struct {
	mu     sync.Mutex
	closed bool
	nextID uint64
	active map[uint64]*Handle
	idle   chan struct{} // closed while active is empty

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New creates an open registry.
func New(logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		active: make(map[uint64]*Handle),
		idle:   idle,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Go registers fn and starts it on its own goroutine. After Close, Go returns
// domain.ErrRegistryClosed and fn is never run.
//
// fn receives a context that is cancelled only when Drain gives up waiting.
func (r *Registry) Go(name string, fn func(ctx context.Context)) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.NewDomainError("Registry.Go", domain.ErrRegistryClosed, name)
	}
	r.nextID++
	h := &Handle{id: r.nextID, name: name, done: make(chan struct{})}
	if len(r.active) == 0 {
		r.idle = make(chan struct{})
	}
	r.active[h.id] = h
	r.mu.Unlock()

	go r.run(h, fn)
	return h, nil
}

func (r *Registry) run(h *Handle, fn func(ctx context.Context)) {
	defer r.complete(h)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", "task", h.name, "panic", rec)
		}
	}()
	fn(r.ctx)
}

func (r *Registry) complete(h *Handle) {
	close(h.done)

	r.mu.Lock()
	delete(r.active, h.id)
	if len(r.active) == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

// Close stops admitting new tasks. It is idempotent and does not wait.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Outstanding returns the number of tasks that have not yet completed.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Drain blocks until every registered task has completed or ctx is done.
// On ctx expiry the tasks' context is cancelled and ctx.Err() is returned.
//
// Drain only guarantees quiescence when called after Close; before that, new
// tasks may be registered as soon as it returns.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	n := len(r.active)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Info("draining tasks", "outstanding", n)
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("drain timed out", "outstanding", r.Outstanding())
		return ctx.Err()
	}
}
