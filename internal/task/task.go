// Package task provides a cancellable handle around a background discovery
// computation.
//
// A Task settles exactly once: either when its function returns, or when
// Cancel is called first. After settling, the background goroutine may keep
// running; its result and progress reports are dropped.
package task

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

// Func is the body of a task
type Func func(ctx context.Context, progress ports.ProgressFunc) (*domain.DiscoveryResult, error)

// Task implements ports.DiscoveryRun
type Task struct {
	id       string
	cancel   context.CancelFunc
	progress ports.ProgressFunc
	done     chan struct{}

	mu       sync.Mutex
	settled  bool
	finished bool
	result   *domain.DiscoveryResult
	err      error
}

// Start runs fn in a new goroutine and returns its handle
func Start(parent context.Context, fn Func, progress ports.ProgressFunc) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		id:       uuid.New().String(),
		cancel:   cancel,
		progress: progress,
		done:     make(chan struct{}),
	}

	go func() {
		defer cancel()
		result, err := fn(ctx, t.report)
		t.settle(result, err, err == nil)
	}()

	return t
}

// ID returns the task identifier passed to progress callbacks
func (t *Task) ID() string {
	return t.id
}

// Wait blocks until the task settles or ctx is done
func (t *Task) Wait(ctx context.Context) (*domain.DiscoveryResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels the task context and settles it with domain.ErrCanceled
func (t *Task) Cancel(ctx context.Context) error {
	t.cancel()
	t.settle(nil, domain.ErrCanceled, false)
	return nil
}

// IsFinished reports whether the task settled with its own result
func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Done is closed once the task settles
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) settle(result *domain.DiscoveryResult, err error, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.settled {
		return
	}
	t.settled = true
	t.finished = finished
	t.result = result
	t.err = err
	close(t.done)
}

// report forwards progress until the task settles
func (t *Task) report(percent float64, _ string) {
	t.mu.Lock()
	settled := t.settled
	t.mu.Unlock()

	if settled || t.progress == nil {
		return
	}
	t.progress(percent, t.id)
}
