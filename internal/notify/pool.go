package notify

import (
	"errors"
	"sync"
)

var ErrQueueFull = errors.New("notification queue full")
var ErrPoolClosed = errors.New("notification pool closed")

type TaskFunc func()

// Pool runs submitted tasks on a fixed number of workers.
type Pool struct {
	maxWorkers int
	taskQueue  chan TaskFunc
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	p := &Pool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan TaskFunc, queueSize),
	}
	p.start()
	return p
}

func (p *Pool) start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.taskQueue {
				task()
			}
		}()
	}
}

// TrySubmit enqueues task without blocking.
func (p *Pool) TrySubmit(task TaskFunc) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) QueueSize() int {
	return len(p.taskQueue)
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()
	p.wg.Wait()
}
