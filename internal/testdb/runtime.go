package testdb

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Runtime is a concurrency scope for asynchronous work. Work started with Go
// is awaited by Wait; the first error of a batch cancels the rest of it.
//
// Every test case owns a fresh Runtime. The Environment owns a long-lived
// one for process-level create and drop; it is suspended while a test case
// runs, so stray process-level work cannot overlap a test, and resumed
// afterwards.
type Runtime struct {
	name   string
	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	group     *errgroup.Group
	groupCtx  context.Context
	suspended int
	closed    bool

	pending atomic.Int64
}

// NewRuntime returns a runtime whose work is cancelled with parent.
func NewRuntime(parent context.Context, name string) *Runtime {
	base, cancel := context.WithCancel(parent)
	r := &Runtime{name: name, base: base, cancel: cancel}
	r.group, r.groupCtx = errgroup.WithContext(base)
	return r
}

// Name returns the name the runtime was created with.
func (r *Runtime) Name() string { return r.name }

// Context returns the runtime's context. It is cancelled by Close.
func (r *Runtime) Context() context.Context { return r.base }

// Go starts fn in the current batch. fn receives the batch context, which is
// cancelled when any function of the batch fails.
func (r *Runtime) Go(fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrRuntimeClosed
	case r.suspended > 0:
		return ErrRuntimeSuspended
	}

	ctx := r.groupCtx
	r.pending.Add(1)
	r.group.Go(func() error {
		defer r.pending.Add(-1)
		return fn(ctx)
	})
	return nil
}

// Run starts fn and waits for the current batch to finish.
func (r *Runtime) Run(fn func(ctx context.Context) error) error {
	if err := r.Go(fn); err != nil {
		return err
	}
	return r.Wait()
}

// Pending returns the number of functions that have not returned yet.
func (r *Runtime) Pending() int { return int(r.pending.Load()) }

// Wait blocks until the current batch finishes and returns its first error.
// Work started afterwards belongs to a new batch.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	g := r.group
	r.group, r.groupCtx = errgroup.WithContext(r.base)
	r.mu.Unlock()
	return g.Wait()
}

// Suspend makes Go refuse new work until the matching Resume.
// Calls nest.
func (r *Runtime) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended++
}

// Resume undoes one Suspend. Extra calls are ignored.
func (r *Runtime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended > 0 {
		r.suspended--
	}
}

// Suspended reports whether the runtime refuses new work.
func (r *Runtime) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended > 0
}

// Close cancels the runtime's context, waits for outstanding work and
// refuses anything new. It returns the error of the last batch.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	g := r.group
	r.mu.Unlock()

	r.cancel()
	return g.Wait()
}
