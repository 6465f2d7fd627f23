package queue

import (
	"context"
	"sync"
)

// WorkerPool bounds the number of concurrently running tasks
type WorkerPool struct {
	workers chan struct{}
	wg      sync.WaitGroup
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		workers: make(chan struct{}, size),
	}
}

// SubmitContext waits for a free worker slot, then runs task in its own
// goroutine. It gives up waiting when ctx ends.
func (p *WorkerPool) SubmitContext(ctx context.Context, task func()) error {
	select {
	case p.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.workers
			p.wg.Done()
		}()
		task()
	}()
	return nil
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
