package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/algorithms"
	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
	"github.com/showwhy/discoverd/internal/task"
)

// ErrPoolClosed is returned for jobs submitted after Shutdown
var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool executes discovery jobs on a fixed number of worker goroutines.
// It implements ports.Discoverer.
type Pool struct {
	size       int
	algorithms *algorithms.Registry
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	health     *HealthMonitor

	jobs    chan *job
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// job is one queued discovery request
type job struct {
	ctx        context.Context
	req        ports.DiscoveryRequest
	progress   ports.ProgressFunc
	enqueuedAt time.Time
	done       chan jobResult
}

type jobResult struct {
	result *domain.DiscoveryResult
	err    error
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. queueSize bounds the number of jobs
// waiting for a worker.
func NewPool(
	size int,
	queueSize int,
	registry *algorithms.Registry,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:       size,
		algorithms: registry,
		metrics:    metrics,
		logger:     logger,
		jobs:       make(chan *job, queueSize),
		workers:    make([]*worker, size),
		ctx:        ctx,
		cancel:     cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// Discover queues a discovery job and returns its cancellable handle
func (p *Pool) Discover(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun {
	return task.Start(ctx, func(ctx context.Context, progress ports.ProgressFunc) (*domain.DiscoveryResult, error) {
		j := &job{
			ctx:        ctx,
			req:        req,
			progress:   progress,
			enqueuedAt: time.Now(),
			done:       make(chan jobResult, 1),
		}

		select {
		case p.jobs <- j:
			p.metrics.SetQueueDepth(len(p.jobs))
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolClosed
		}

		select {
		case r := <-j.done:
			return r.result, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolClosed
		}
	}, onProgress)
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case j := <-w.pool.jobs:
			w.pool.metrics.SetQueueDepth(len(w.pool.jobs))
			w.execute(j)
		}
	}
}

// execute runs a single discovery job
func (w *worker) execute(j *job) {
	// Skip jobs whose run was cancelled while queued
	if err := j.ctx.Err(); err != nil {
		j.done <- jobResult{err: err}
		return
	}

	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	w.pool.logger.Info("executing discovery job",
		zap.String("worker_id", w.id),
		zap.String("algorithm", string(j.req.Algorithm)),
		zap.Int("variables", len(j.req.Variables)),
		zap.Duration("queue_wait", time.Since(j.enqueuedAt)))

	startTime := time.Now()

	alg, err := w.pool.algorithms.Get(j.req.Algorithm)
	if err != nil {
		j.done <- jobResult{err: err}
		return
	}

	result, err := alg.Discover(j.ctx, j.req, j.progress)
	j.done <- jobResult{result: result, err: err}

	w.pool.logger.Info("discovery job completed",
		zap.String("worker_id", w.id),
		zap.String("algorithm", string(j.req.Algorithm)),
		zap.Bool("failed", err != nil),
		zap.Duration("duration", time.Since(startTime)))
}
