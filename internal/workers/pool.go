// Package workers provides a bounded worker pool with per-key deduplication.
package workers

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work. It must return promptly once ctx is cancelled.
type Task func(ctx context.Context)

// Pool runs keyed tasks on a fixed number of goroutines. At most one task per
// key is queued or running at any time.
type Pool struct {
	workers   int
	taskQueue chan keyedTask
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   atomic.Bool

	mu     sync.RWMutex
	active map[string]*JobState

	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
}

type keyedTask struct {
	key  string
	task Task
}

// JobState describes a queued or running task.
type JobState struct {
	Key       string
	Running   bool
	QueuedAt  time.Time
	StartedAt time.Time
}

// NewPool creates a pool with the given number of workers and queue capacity.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:   workers,
		taskQueue: make(chan keyedTask, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*JobState),
	}
}

// Start starts the worker goroutines.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return // Already running
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case kt, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(kt)
		}
	}
}

func (p *Pool) run(kt keyedTask) {
	p.mu.Lock()
	if st, ok := p.active[kt.key]; ok {
		st.Running = true
		st.StartedAt = time.Now()
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.active, kt.key)
		p.mu.Unlock()
		p.tasksDone.Add(1)
	}()

	if p.ctx.Err() != nil {
		return
	}
	kt.task(p.ctx)
}

// Submit enqueues task under key without blocking. It returns false when the
// pool is stopped, the key is already queued or running, or the queue is full.
func (p *Pool) Submit(key string, task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return false
	}
	if _, busy := p.active[key]; busy {
		return false
	}

	select {
	case p.taskQueue <- keyedTask{key: key, task: task}:
		p.active[key] = &JobState{Key: key, QueuedAt: time.Now()}
		p.tasksTotal.Add(1)
		return true
	default:
		return false // Queue full
	}
}

// Busy reports whether a task for key is queued or running.
func (p *Pool) Busy(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.active[key]
	return ok
}

// Jobs returns a snapshot of queued and running tasks ordered by key.
func (p *Pool) Jobs() []JobState {
	p.mu.RLock()
	out := make([]JobState, 0, len(p.active))
	for _, st := range p.active {
		out = append(out, *st)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stop cancels running tasks and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return // Not running
	}
	p.cancel()
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()

	// Drop tasks that were still queued when the workers exited.
	p.mu.Lock()
	p.active = make(map[string]*JobState)
	p.mu.Unlock()
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	active := len(p.active)
	p.mu.RUnlock()

	return PoolStats{
		Workers:    p.workers,
		Running:    p.running.Load(),
		Active:     active,
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
		QueueLen:   len(p.taskQueue),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    bool
	Active     int
	TasksTotal uint64
	TasksDone  uint64
	QueueLen   int
}
