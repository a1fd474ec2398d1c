// Package processing runs batch jobs on a bounded pool of goroutines fed by a
// buffered channel.
package processing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job identifies one asset to process.
type Job struct {
	AssetID uuid.UUID
}

// Handler processes one job. Its error is logged and does not stop the pool.
type Handler func(ctx context.Context, job Job) error

// Processor consumes Jobs with a fixed number of workers.
type Processor struct {
	handle  Handler
	queue   chan Job
	workers int
	log     *zap.Logger
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(workers int, handle Handler, log *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		handle:  handle,
		queue:   make(chan Job, workers*4),
		workers: workers,
		log:     log,
	}
}

// Start launches the workers. They exit when ctx is done or Close drains the
// queue.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a job, blocking while the buffer is full.
func (p *Processor) Submit(ctx context.Context, job Job) error {
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Processor) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.handle(ctx, job); err != nil {
				p.log.Warn("job failed", zap.String("asset_id", job.AssetID.String()), zap.Error(err))
			}
		}
	}
}
