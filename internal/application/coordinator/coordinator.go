package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
	"github.com/showwhy/discoverd/internal/state"
)

// CancellingMessage is the loading message left behind by a cancelled run
const CancellingMessage = "Cancelling last run..."

// ErrClosed is returned by operations on a closed coordinator
var ErrClosed = errors.New("coordinator closed")

// Run outcomes recorded as metrics
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
)

// ProgressMessage formats the loading message of a running discovery.
// Halves round up.
func ProgressMessage(percent float64) string {
	return fmt.Sprintf("Running causal discovery %.0f%%...", math.Floor(percent+0.5))
}

// trackedRun is a launched discovery and its reconciliation state
type trackedRun struct {
	run        ports.DiscoveryRun
	algorithm  domain.Algorithm
	startedAt  time.Time
	reconciled bool

	// done is closed after the run has been reconciled
	done chan struct{}
}

// Coordinator runs causal discovery for one session
type Coordinator struct {
	store      *state.Store
	discoverer ports.Discoverer
	events     ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// launchMu serializes cancel-then-start
	launchMu sync.Mutex

	mu       sync.Mutex
	tracked  *trackedRun
	loading  bool
	last     Inputs
	observed bool
}

// New creates a coordinator over a session store
func New(
	store *state.Store,
	discoverer ports.Discoverer,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:      store,
		discoverer: discoverer,
		events:     events,
		metrics:    metrics,
		logger:     logger.With(zap.String("session_id", store.SessionID())),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// IsLoading reports whether the tracked run is in progress
func (c *Coordinator) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Run launches a discovery over the current inputs and blocks until it is
// reconciled into session state. When auto-run is off and a run is already
// loading, Run does nothing.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	t, err := c.launch(ctx)
	if err != nil || t == nil {
		return err
	}

	result, err := t.run.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// Caller gave up waiting, the run must not outlive it
		if cancelErr := t.run.Cancel(context.WithoutCancel(ctx)); cancelErr != nil {
			c.logger.Warn("failed to cancel run", zap.Error(cancelErr))
		}
	}

	defer close(t.done)
	return c.reconcile(context.WithoutCancel(ctx), t, result, err)
}

// launch cancels the tracked run and starts a new one over the inputs read
// under launchMu. It returns nil when the run was skipped.
func (c *Coordinator) launch(ctx context.Context) (*trackedRun, error) {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()

	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}

	in, err := LoadInputs(ctx, c.store)
	if err != nil {
		return nil, err
	}

	if !in.AutoRun && c.IsLoading() {
		c.logger.Debug("discovery already running, skipping")
		c.metrics.RecordRunSkipped()
		return nil, nil
	}

	if err := state.Reset(ctx, c.store, state.ErrorMessage); err != nil {
		return nil, err
	}

	if err := c.cancelTracked(ctx); err != nil {
		return nil, err
	}

	constraints := DeriveConstraints(in.Variables, in.Constraints)
	t := &trackedRun{
		algorithm: in.Algorithm,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.tracked = t
	c.loading = true
	c.mu.Unlock()

	t.run = c.discoverer.Discover(c.ctx, ports.DiscoveryRequest{
		Dataset:     in.Dataset,
		Variables:   in.Variables,
		Constraints: constraints,
		Algorithm:   in.Algorithm,
		Params:      in.Params(),
	}, func(percent float64, taskID string) {
		c.updateProgress(t, percent, taskID)
	})

	c.logger.Info("discovery started",
		zap.String("algorithm", string(in.Algorithm)),
		zap.Int("variables", len(in.Variables)),
		zap.Int("constraints", len(constraints.ManualRelationships)))

	c.metrics.RecordRunStarted(string(in.Algorithm))
	c.metrics.RecordDerivedConstraints(len(constraints.ManualRelationships) - len(in.Constraints.ManualRelationships))
	c.publish(ctx, domain.EventTypeDiscoveryStarted, map[string]interface{}{
		"algorithm": string(in.Algorithm),
	})

	return t, nil
}

// reconcile writes the outcome of t into session state if t is still the
// tracked run
func (c *Coordinator) reconcile(ctx context.Context, t *trackedRun, result *domain.DiscoveryResult, runErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(t.startedAt)

	if c.tracked != t || t.reconciled {
		c.discard(ctx, t, duration, "superseded")
		return nil
	}
	t.reconciled = true
	c.loading = false

	switch {
	case runErr == nil:
		if !t.run.IsFinished() {
			// Loading is already cleared above. Nothing else will settle
			// this run, so leaving it set would block manual runs.
			c.discard(ctx, t, duration, "not finished")
			return nil
		}

		if err := state.Set(ctx, c.store, state.Result, domain.ResultStateFrom(result)); err != nil {
			return err
		}
		if err := state.Reset(ctx, c.store, state.LoadingMessage); err != nil {
			return err
		}
		if err := state.Reset(ctx, c.store, state.ErrorMessage); err != nil {
			return err
		}

		c.logger.Info("discovery completed",
			zap.String("algorithm", string(t.algorithm)),
			zap.Int("relationships", len(result.Relationships)),
			zap.Duration("duration", duration))
		c.metrics.RecordRunSettled(string(t.algorithm), outcomeCompleted, duration)
		c.publish(ctx, domain.EventTypeDiscoveryCompleted, map[string]interface{}{
			"algorithm":     string(t.algorithm),
			"relationships": len(result.Relationships),
		})

	case IsCancellation(runErr):
		if err := state.Set(ctx, c.store, state.LoadingMessage, CancellingMessage); err != nil {
			return err
		}
		if err := state.Reset(ctx, c.store, state.ErrorMessage); err != nil {
			return err
		}

		c.logger.Info("discovery cancelled", zap.String("algorithm", string(t.algorithm)))
		c.metrics.RecordRunSettled(string(t.algorithm), outcomeCancelled, duration)
		c.publish(ctx, domain.EventTypeDiscoveryCancelled, map[string]interface{}{
			"algorithm": string(t.algorithm),
		})

	default:
		if err := state.Reset(ctx, c.store, state.Result); err != nil {
			return err
		}
		if err := state.Reset(ctx, c.store, state.LoadingMessage); err != nil {
			return err
		}
		if err := state.Set(ctx, c.store, state.ErrorMessage, runErr.Error()); err != nil {
			return err
		}

		c.logger.Warn("discovery failed",
			zap.String("algorithm", string(t.algorithm)),
			zap.Error(runErr))
		c.metrics.RecordRunSettled(string(t.algorithm), outcomeFailed, duration)
		c.publish(ctx, domain.EventTypeDiscoveryFailed, map[string]interface{}{
			"algorithm": string(t.algorithm),
			"error":     runErr.Error(),
		})
	}

	return nil
}

// discard drops the outcome of t. Must be called with c.mu held.
func (c *Coordinator) discard(ctx context.Context, t *trackedRun, duration time.Duration, reason string) {
	c.logger.Debug("discovery outcome discarded",
		zap.String("algorithm", string(t.algorithm)),
		zap.String("reason", reason))
	c.metrics.RecordRunSettled(string(t.algorithm), outcomeDiscarded, duration)
	c.publish(ctx, domain.EventTypeDiscoveryDiscarded, map[string]interface{}{
		"algorithm": string(t.algorithm),
		"reason":    reason,
	})
}

// updateProgress sets the loading message while t is tracked and unsettled
func (c *Coordinator) updateProgress(t *trackedRun, percent float64, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracked != t || t.reconciled {
		return
	}

	if err := state.Set(c.ctx, c.store, state.LoadingMessage, ProgressMessage(percent)); err != nil {
		c.logger.Warn("failed to update progress", zap.Error(err))
		return
	}

	c.publish(c.ctx, domain.EventTypeDiscoveryProgress, map[string]interface{}{
		"percent": percent,
		"taskId":  taskID,
	})
}

// Sync reloads the inputs and, when they changed since the last call,
// cancels the tracked run and applies the reaction to the new inputs. The
// caller is responsible for launching Run when the returned action asks for
// it.
func (c *Coordinator) Sync(ctx context.Context) (Action, error) {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()

	if c.ctx.Err() != nil {
		return Action{}, ErrClosed
	}

	in, err := LoadInputs(ctx, c.store)
	if err != nil {
		return Action{}, err
	}

	c.mu.Lock()
	if c.observed && c.last.Equal(in) {
		c.mu.Unlock()
		return Action{}, nil
	}
	c.last = in
	c.observed = true
	c.mu.Unlock()

	if err := c.cancelTracked(ctx); err != nil {
		return Action{}, err
	}

	action := OnInputsChanged(in)

	if action.Reset != nil {
		if err := state.Set(ctx, c.store, state.Result, *action.Reset); err != nil {
			return Action{}, err
		}
		c.publish(ctx, domain.EventTypeResultReset, map[string]interface{}{
			"variables":   len(in.Variables),
			"constraints": len(action.Reset.Graph.Constraints.ManualRelationships),
		})
	}

	if action.ResetProgress {
		if err := state.Set(ctx, c.store, state.LoadingMessage, ProgressMessage(0)); err != nil {
			return Action{}, err
		}
	}

	return action, nil
}

// Stop cancels the tracked run and waits until it has been reconciled.
// Stopping when nothing runs is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()

	return c.cancelTracked(ctx)
}

// Close stops the tracked run and rejects further runs
func (c *Coordinator) Close(ctx context.Context) error {
	c.launchMu.Lock()
	defer c.launchMu.Unlock()

	err := c.cancelTracked(ctx)
	c.cancel()
	return err
}

// cancelTracked must be called with launchMu held
func (c *Coordinator) cancelTracked(ctx context.Context) error {
	c.mu.Lock()
	t := c.tracked
	c.mu.Unlock()

	if t == nil || t.run == nil {
		return nil
	}

	if err := t.run.Cancel(ctx); err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType domain.EventType, data map[string]interface{}) {
	if c.events == nil {
		return
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: c.store.SessionID(),
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := c.events.Publish(ctx, domain.SessionEventsTopic, event); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

// IsCancellation reports whether err signals a cancelled run
func IsCancellation(err error) bool {
	return errors.Is(err, domain.ErrCanceled) || errors.Is(err, context.Canceled)
}
