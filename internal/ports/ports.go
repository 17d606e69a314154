// Package ports declares the interfaces between the discovery core and its
// adapters (storage, events, metrics, discovery engines).
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/showwhy/discoverd/internal/domain"
)

// ErrStateNotFound is returned by a StateBackend for a missing key
var ErrStateNotFound = errors.New("state not found")

// StateBackend persists raw state cells
type StateBackend interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// EventHandler handles a published event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes events to topic subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Subscribe registers handler until ctx is done
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	Close() error
}

// MetricsCollector records discovery service metrics
type MetricsCollector interface {
	RecordRunStarted(algorithm string)
	RecordRunSettled(algorithm, outcome string, duration time.Duration)
	RecordRunSkipped()
	RecordDerivedConstraints(count int)
	SetActiveSessions(count int)
	SetQueueDepth(depth int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// ProgressFunc receives discovery progress in percent. taskID may be empty.
type ProgressFunc func(percent float64, taskID string)

// DiscoveryRequest is the input of a discovery algorithm
type DiscoveryRequest struct {
	Dataset     domain.Dataset
	Variables   []domain.CausalVariable
	Constraints domain.CausalGraphConstraints
	Algorithm   domain.Algorithm

	// Params is only set for the parameterized algorithm (DECI)
	Params *domain.DECIParams
}

// DiscoveryRun is a cancellable handle to one discovery computation
type DiscoveryRun interface {
	// Wait blocks until the run settles or ctx is done
	Wait(ctx context.Context) (*domain.DiscoveryResult, error)

	// Cancel requests cancellation and returns once the run has settled.
	// Cancelling a settled run is a no-op.
	Cancel(ctx context.Context) error

	// IsFinished reports whether the run settled normally
	IsFinished() bool
}

// Discoverer is the discovery algorithm entry point
type Discoverer interface {
	Discover(ctx context.Context, req DiscoveryRequest, onProgress ProgressFunc) DiscoveryRun
}
