package engine

import (
	"context"
	"errors"
	"sync"

	"odin-backtester/internal/infrastructure"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("worker pool job queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is one unit of work. It receives the pool context.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
type WorkerPool struct {
	jobQueue    chan Task
	workerCount int
	logger      *zap.Logger
	wg          sync.WaitGroup
	mu          sync.RWMutex // guards stopped and the close of jobQueue
	stopped     bool
}

func NewWorkerPool(workerCount int, bufferSize int, logger *zap.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &WorkerPool{
		jobQueue:    make(chan Task, bufferSize),
		workerCount: workerCount,
		logger:      logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("started worker pool", zap.Int("workers", p.workerCount), zap.Int("queue", cap(p.jobQueue)))
}

// Submit enqueues without blocking; a full queue is reported, never waited on.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobQueue <- task:
		infrastructure.QueueDepth.Set(float64(len(p.jobQueue)))
		return nil
	default:
		p.logger.Warn("worker pool job queue full, rejecting task")
		return ErrQueueFull
	}
}

// Pending is the number of queued tasks not yet picked up.
func (p *WorkerPool) Pending() int { return len(p.jobQueue) }

// Stop closes the queue and waits for workers to drain it. Later submissions
// fail with ErrPoolStopped.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobQueue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.jobQueue:
			if !ok {
				return
			}
			infrastructure.QueueDepth.Set(float64(len(p.jobQueue)))
			p.process(ctx, id, task)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, workerID int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", zap.Int("worker_id", workerID), zap.Any("panic", r))
		}
	}()
	task(ctx)
}
