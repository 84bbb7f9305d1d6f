// Package worker runs CPU-bound jobs on a fixed set of goroutines and
// hands their results back to the execution context that offered them.
package worker

import "sync"

// Owner is the single-threaded context a job's result is delivered to.
// *loop.Loop satisfies it.
type Owner interface {
	Post(fn func())
}

// Job pairs an owner with a pure computation. Work runs on a pool
// goroutine; the function it returns is posted to Owner, never called on
// the pool goroutine.
type Job struct {
	Owner Owner
	Work  func() func()
}

// Pool is a fixed-size set of goroutines draining a shared job queue.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []Job
	stopped bool
	wg      sync.WaitGroup
}

// New starts workers goroutines. A pool with no workers accepts jobs but
// never runs them.
func New(workers int) *Pool {
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for range workers {
		p.wg.Go(p.run)
	}
	return p
}

func (p *Pool) run() {
	for {
		p.mu.Lock()
		for !p.stopped && len(p.jobs) == 0 {
			p.cond.Wait()
		}
		if p.stopped && len(p.jobs) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.jobs[0]
		p.jobs[0] = Job{}
		p.jobs = p.jobs[1:]
		p.mu.Unlock()

		if result := job.Work(); result != nil {
			job.Owner.Post(result)
		}
	}
}

// Offer queues job and wakes one worker. Jobs offered after Close has
// begun are dropped.
func (p *Pool) Offer(job Job) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close stops accepting jobs, lets the workers drain what is already
// queued, and waits for them to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
