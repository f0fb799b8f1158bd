// Package worker runs cleaning tasks on a fixed set of goroutines and hands
// back a Future per submitted task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"system-toolbox/internal/cleaner"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one independent top-level cleaning operation.
type Task struct {
	Name string
	Run  func(ctx context.Context) (cleaner.Result, error)
	// RunDetailed replaces Run for tasks that hand back an extra value,
	// delivered in Outcome.Detail.
	RunDetailed func(ctx context.Context) (cleaner.Result, interface{}, error)
	// OnDone, when set, is called with the outcome before the future resolves.
	OnDone func(Outcome)
}

// Outcome is the final state of a task.
type Outcome struct {
	Name     string
	Result   cleaner.Result
	Detail   interface{}
	Err      error
	Started  time.Time
	Finished time.Time
}

func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Future resolves once its task has finished or was abandoned.
type Future struct {
	done    chan struct{}
	outcome Outcome
}

// Done is closed when the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome without blocking; ok is false while pending.
func (f *Future) Outcome() (Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return Outcome{}, false
	}
}

type job struct {
	task   Task
	future *Future
}

// Pool executes tasks with bounded concurrency. Tasks share no state, so
// the pool imposes no ordering between them.
type Pool struct {
	ctx   context.Context
	jobs  chan job
	wg    sync.WaitGroup
	mu    sync.RWMutex
	close bool
}

// NewPool starts concurrency workers. Tasks still queued when ctx is done
// resolve with ctx.Err() without running.
func NewPool(ctx context.Context, concurrency, queueSize int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		ctx:  ctx,
		jobs: make(chan job, queueSize),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Submit queues t. It blocks while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, t Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.close {
		return nil, ErrPoolClosed
	}

	f := &Future{done: make(chan struct{})}
	select {
	case p.jobs <- job{task: t, future: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.close {
		p.close = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	out := Outcome{Name: j.task.Name}
	if err := p.ctx.Err(); err != nil {
		out.Err = err
		out.Finished = time.Now()
	} else {
		out.Started = time.Now()
		out.Result, out.Detail, out.Err = safeRun(p.ctx, j.task)
		out.Finished = time.Now()
	}

	j.future.outcome = out
	if j.task.OnDone != nil {
		j.task.OnDone(out)
	}
	close(j.future.done)
}

func safeRun(ctx context.Context, t Task) (res cleaner.Result, detail interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	switch {
	case t.RunDetailed != nil:
		return t.RunDetailed(ctx)
	case t.Run != nil:
		res, err = t.Run(ctx)
		return res, nil, err
	}
	return cleaner.Result{}, nil, fmt.Errorf("task %s has no run function", t.Name)
}
