package worker

import (
	"context"
	"sync"
)

type ProcessFunc[J any] func(ctx context.Context, job J) error

// WorkerPool runs a fixed number of workers over a buffered job queue.
// Every job accepted by Submit is handed to the processor, processors are
// expected to observe ctx themselves.
type WorkerPool[J any] struct {
	numWorkers int
	jobs       chan J
	processor  ProcessFunc[J]
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

func NewWorkerPool[J any](numWorkers int, bufferSize int, processor ProcessFunc[J]) *WorkerPool[J] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool[J]{
		numWorkers: numWorkers,
		jobs:       make(chan J, bufferSize),
		processor:  processor,
	}
}

func (wp *WorkerPool[J]) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool[J]) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.processor(ctx, job)
	}
}

// Submit enqueues job, blocking while the queue is full. It returns ctx.Err()
// if ctx is done before the job is accepted.
func (wp *WorkerPool[J]) Submit(ctx context.Context, job J) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.jobs <- job:
		return nil
	}
}

// Stop closes the queue and waits for queued and in-flight jobs to finish.
func (wp *WorkerPool[J]) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobs)
	})
	wp.wg.Wait()
}
