package worker

import (
	"sync"

	"github.com/rs/zerolog"
)

// Pool manages a fixed number of worker goroutines that execute
// delivery tasks. Submission applies backpressure: once the buffer is
// full, Submit blocks until a worker frees up, bounding the resources
// one noisy fan-out can consume.
type Pool struct {
	workers int
	tasks   chan func()
	log     zerolog.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(workers int, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
		log:     log,
	}
}

// Start launches the worker goroutines. They drain the task channel
// until Stop closes it.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("workers", p.workers).Msg("delivery worker pool started")
}

// Submit enqueues a task for background execution. Returns false if the
// pool has been stopped, in which case the task is dropped.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// Stop closes the task channel and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}
