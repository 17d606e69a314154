package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
	"github.com/showwhy/discoverd/internal/state"
	"github.com/showwhy/discoverd/internal/task"
	eventsmemory "github.com/showwhy/discoverd/pkg/adapters/events/memory"
	promadapter "github.com/showwhy/discoverd/pkg/adapters/metrics/prometheus"
	storagememory "github.com/showwhy/discoverd/pkg/adapters/storage/memory"
)

type reply struct {
	result *domain.DiscoveryResult
	err    error
}

// controlledCall is one discovery launched through controlledDiscoverer
type controlledCall struct {
	req      ports.DiscoveryRequest
	task     *task.Task
	progress chan float64
	reply    chan reply

	// prevSettled records whether every earlier run had settled when this
	// one was launched
	prevSettled bool
}

// controlledDiscoverer lets tests drive each run by hand
type controlledDiscoverer struct {
	mu    sync.Mutex
	tasks []*task.Task
	calls chan *controlledCall
}

func newControlledDiscoverer() *controlledDiscoverer {
	return &controlledDiscoverer{calls: make(chan *controlledCall, 8)}
}

func (d *controlledDiscoverer) Discover(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun {
	call := &controlledCall{
		req:         req,
		progress:    make(chan float64),
		reply:       make(chan reply, 1),
		prevSettled: true,
	}

	d.mu.Lock()
	for _, t := range d.tasks {
		select {
		case <-t.Done():
		default:
			call.prevSettled = false
		}
	}
	d.mu.Unlock()

	call.task = task.Start(ctx, func(ctx context.Context, progress ports.ProgressFunc) (*domain.DiscoveryResult, error) {
		for {
			select {
			case p := <-call.progress:
				progress(p, "")
			case r := <-call.reply:
				return r.result, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}, onProgress)

	d.mu.Lock()
	d.tasks = append(d.tasks, call.task)
	d.mu.Unlock()

	d.calls <- call
	return call.task
}

// stubRun settles immediately with a fixed outcome
type stubRun struct {
	result   *domain.DiscoveryResult
	err      error
	finished bool
}

func (s *stubRun) Wait(ctx context.Context) (*domain.DiscoveryResult, error) { return s.result, s.err }
func (s *stubRun) Cancel(ctx context.Context) error                           { return nil }
func (s *stubRun) IsFinished() bool                                           { return s.finished }

type discoverFunc func(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun

func (f discoverFunc) Discover(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun {
	return f(ctx, req, onProgress)
}

var (
	varA = domain.CausalVariable{ColumnName: "a", DerivedFrom: []string{"x"}}
	varB = domain.CausalVariable{ColumnName: "b", DerivedFrom: []string{"x"}}
)

// stallingBackend blocks the first Load of a cell once armed until released
type stallingBackend struct {
	*storagememory.InMemoryStateStorage

	mu      sync.Mutex
	cell    string
	stalled chan struct{}
	release chan struct{}
}

func newStallingBackend() *stallingBackend {
	return &stallingBackend{InMemoryStateStorage: storagememory.NewInMemoryStateStorage()}
}

// arm makes the next Load of cell block until the returned func is called
func (b *stallingBackend) arm(cell string) (stalled <-chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cell = cell
	b.stalled = make(chan struct{})
	b.release = make(chan struct{})
	releaseCh := b.release
	return b.stalled, func() { close(releaseCh) }
}

func (b *stallingBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	var release chan struct{}
	if b.cell != "" && strings.HasSuffix(key, ":"+b.cell) {
		b.cell = ""
		close(b.stalled)
		release = b.release
	}
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	return b.InMemoryStateStorage.Load(ctx, key)
}

func newTestCoordinator(t *testing.T, discoverer ports.Discoverer, events ports.EventBus) (*Coordinator, *state.Store) {
	t.Helper()
	return newTestCoordinatorOn(t, storagememory.NewInMemoryStateStorage(), discoverer, events)
}

func newTestCoordinatorOn(t *testing.T, backend ports.StateBackend, discoverer ports.Discoverer, events ports.EventBus) (*Coordinator, *state.Store) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store := state.NewStore("session-1", backend, events, logger)
	require.NoError(t, state.Set(ctx, store, state.Variables, []domain.CausalVariable{varA, varB}))
	require.NoError(t, state.Set(ctx, store, state.InModel, []string{"a", "b"}))

	c := New(store, discoverer, events, promadapter.NewCollector(prometheus.NewRegistry()), logger)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c, store
}

func startRun(c *Coordinator) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(context.Background())
	}()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func nextCall(t *testing.T, d *controlledDiscoverer) *controlledCall {
	t.Helper()
	select {
	case call := <-d.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("discovery was not invoked")
		return nil
	}
}

func getCell[T any](t *testing.T, store *state.Store, cell state.Cell[T]) T {
	t.Helper()
	v, err := state.Get(context.Background(), store, cell)
	require.NoError(t, err)
	return v
}

func TestRun_CommitsResult(t *testing.T) {
	disc := newControlledDiscoverer()
	bus := eventsmemory.NewInMemoryEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []domain.EventType
	require.NoError(t, bus.Subscribe(context.Background(), domain.SessionEventsTopic, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	}))

	c, store := newTestCoordinator(t, disc, bus)
	require.NoError(t, state.Set(context.Background(), store, state.ErrorMessage, "stale"))

	errCh := startRun(c)
	call := nextCall(t, disc)

	// Both directions are derived from the shared lineage column
	assert.Equal(t, []string{"a->b", "b->a"}, keys(call.req.Constraints.ManualRelationships))
	assert.Equal(t, domain.AlgorithmPC, call.req.Algorithm)
	assert.Nil(t, call.req.Params)
	assert.Equal(t, "", getCell(t, store, state.ErrorMessage))
	assert.True(t, c.IsLoading())

	call.progress <- 42.4
	require.Eventually(t, func() bool {
		return getCell(t, store, state.LoadingMessage) == "Running causal discovery 42%..."
	}, time.Second, 5*time.Millisecond)

	weight := 0.5
	call.reply <- reply{result: &domain.DiscoveryResult{
		Variables:     []domain.CausalVariable{varA, varB},
		Relationships: []domain.Relationship{{Source: varA, Target: varB, Weight: &weight}},
		Constraints:   call.req.Constraints,
		Algorithm:     domain.AlgorithmPC,
	}}
	require.NoError(t, waitErr(t, errCh))

	result := getCell(t, store, state.Result)
	assert.Equal(t, []string{"a->b"}, keys(result.Graph.Relationships))
	assert.Equal(t, domain.AlgorithmPC, result.Graph.Algorithm)
	assert.Equal(t, "", getCell(t, store, state.LoadingMessage))
	assert.Equal(t, "", getCell(t, store, state.ErrorMessage))
	assert.False(t, c.IsLoading())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return containsAll(seen,
			domain.EventTypeDiscoveryStarted,
			domain.EventTypeDiscoveryProgress,
			domain.EventTypeDiscoveryCompleted)
	}, time.Second, 5*time.Millisecond)
}

func containsAll(seen []domain.EventType, want ...domain.EventType) bool {
	set := make(map[domain.EventType]bool, len(seen))
	for _, e := range seen {
		set[e] = true
	}
	for _, e := range want {
		if !set[e] {
			return false
		}
	}
	return true
}

func TestRun_SecondRunCancelsFirst(t *testing.T) {
	disc := newControlledDiscoverer()
	c, store := newTestCoordinator(t, disc, nil)
	require.NoError(t, state.Set(context.Background(), store, state.AutoRun, true))

	errCh1 := startRun(c)
	first := nextCall(t, disc)

	errCh2 := startRun(c)
	second := nextCall(t, disc)

	assert.True(t, second.prevSettled, "first run must settle before the second starts")
	assert.False(t, first.task.IsFinished())
	require.NoError(t, waitErr(t, errCh1))

	// A late result of the first run is ignored
	first.reply <- reply{result: &domain.DiscoveryResult{
		Relationships: []domain.Relationship{{Source: varB, Target: varA}},
		Algorithm:     domain.AlgorithmPC,
	}}

	second.reply <- reply{result: &domain.DiscoveryResult{
		Variables:     []domain.CausalVariable{varA, varB},
		Relationships: []domain.Relationship{{Source: varA, Target: varB}},
		Algorithm:     domain.AlgorithmPC,
	}}
	require.NoError(t, waitErr(t, errCh2))

	result := getCell(t, store, state.Result)
	assert.Equal(t, []string{"a->b"}, keys(result.Graph.Relationships))
	assert.False(t, c.IsLoading())
}

func TestRun_NotFinishedNeverWritesResult(t *testing.T) {
	disc := discoverFunc(func(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun {
		return &stubRun{result: &domain.DiscoveryResult{
			Relationships: []domain.Relationship{{Source: varA, Target: varB}},
			Algorithm:     domain.AlgorithmPC,
		}}
	})
	c, store := newTestCoordinator(t, disc, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, domain.EmptyResultState(), getCell(t, store, state.Result))
	assert.False(t, c.IsLoading())
}

func TestRun_SkippedWhileLoading(t *testing.T) {
	disc := newControlledDiscoverer()
	c, _ := newTestCoordinator(t, disc, nil)

	errCh := startRun(c)
	first := nextCall(t, disc)

	require.NoError(t, c.Run(context.Background()))

	assert.Empty(t, disc.calls, "algorithm must not be invoked")
	select {
	case <-first.task.Done():
		t.Fatal("tracked run was cancelled")
	default:
	}

	first.reply <- reply{result: &domain.DiscoveryResult{Algorithm: domain.AlgorithmPC}}
	require.NoError(t, waitErr(t, errCh))
}

func TestRun_FailureResetsResult(t *testing.T) {
	disc := discoverFunc(func(ctx context.Context, req ports.DiscoveryRequest, onProgress ports.ProgressFunc) ports.DiscoveryRun {
		return &stubRun{err: errors.New("boom")}
	})
	c, store := newTestCoordinator(t, disc, nil)

	ctx := context.Background()
	previous := domain.EmptyResultState()
	previous.Graph.Algorithm = domain.AlgorithmPC
	previous.Graph.Variables = []domain.CausalVariable{varA}
	require.NoError(t, state.Set(ctx, store, state.Result, previous))
	require.NoError(t, state.Set(ctx, store, state.LoadingMessage, ProgressMessage(80)))

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, domain.EmptyResultState(), getCell(t, store, state.Result))
	assert.Equal(t, "boom", getCell(t, store, state.ErrorMessage))
	assert.Equal(t, "", getCell(t, store, state.LoadingMessage))
	assert.False(t, c.IsLoading())
}

func TestRun_PassesParamsForDECI(t *testing.T) {
	disc := newControlledDiscoverer()
	c, store := newTestCoordinator(t, disc, nil)
	require.NoError(t, state.Set(context.Background(), store, state.Algorithm, domain.AlgorithmDECI))

	errCh := startRun(c)
	call := nextCall(t, disc)

	if assert.NotNil(t, call.req.Params) {
		assert.Equal(t, domain.DefaultDECIParams(), *call.req.Params)
	}

	call.reply <- reply{result: &domain.DiscoveryResult{Algorithm: domain.AlgorithmDECI}}
	require.NoError(t, waitErr(t, errCh))
}

func TestStop_CancelsTrackedRun(t *testing.T) {
	disc := newControlledDiscoverer()
	c, store := newTestCoordinator(t, disc, nil)

	errCh := startRun(c)
	call := nextCall(t, disc)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, waitErr(t, errCh))

	assert.False(t, call.task.IsFinished())
	assert.Equal(t, CancellingMessage, getCell(t, store, state.LoadingMessage))
	assert.Equal(t, "", getCell(t, store, state.ErrorMessage))
	assert.False(t, c.IsLoading())

	// Nothing left to cancel
	require.NoError(t, c.Stop(context.Background()))
}

func TestSync_ResetsResultOnChange(t *testing.T) {
	disc := newControlledDiscoverer()
	c, store := newTestCoordinator(t, disc, nil)
	ctx := context.Background()

	action, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.NotNil(t, action.Reset)
	assert.False(t, action.Run)

	result := getCell(t, store, state.Result)
	assert.Len(t, result.Graph.Variables, 2)
	assert.Empty(t, result.Graph.Relationships)
	assert.Equal(t, []string{"a->b", "b->a"}, keys(result.Graph.Constraints.ManualRelationships))
	assert.Equal(t, domain.AlgorithmPC, result.Graph.Algorithm)

	// Unchanged inputs do nothing
	action, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Action{}, action)

	require.NoError(t, state.Set(ctx, store, state.AutoRun, true))
	action, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, action.Run)
	assert.True(t, action.ResetProgress)
	assert.Equal(t, ProgressMessage(0), getCell(t, store, state.LoadingMessage))

	require.NoError(t, state.Set(ctx, store, state.InModel, []string{}))
	action, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Nil(t, action.Reset)
}

func TestSync_CancelsTrackedRun(t *testing.T) {
	disc := newControlledDiscoverer()
	c, store := newTestCoordinator(t, disc, nil)
	ctx := context.Background()

	_, err := c.Sync(ctx)
	require.NoError(t, err)

	errCh := startRun(c)
	call := nextCall(t, disc)

	require.NoError(t, state.Set(ctx, store, state.Algorithm, domain.AlgorithmDECI))
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, waitErr(t, errCh))
	assert.False(t, call.task.IsFinished())
	assert.False(t, c.IsLoading())
}

func TestRun_LatestInputsLaunchLast(t *testing.T) {
	disc := newControlledDiscoverer()
	backend := newStallingBackend()
	c, store := newTestCoordinatorOn(t, backend, disc, nil)
	ctx := context.Background()
	require.NoError(t, state.Set(ctx, store, state.AutoRun, true))

	// The first run stalls after reading algorithm=PC
	stalled, release := backend.arm(state.AutoRun.Name())
	errCh1 := startRun(c)
	<-stalled

	require.NoError(t, state.Set(ctx, store, state.Algorithm, domain.AlgorithmDECI))
	errCh2 := startRun(c)
	release()

	first := nextCall(t, disc)
	second := nextCall(t, disc)
	assert.Equal(t, domain.AlgorithmPC, first.req.Algorithm)
	assert.Equal(t, domain.AlgorithmDECI, second.req.Algorithm)
	assert.True(t, second.prevSettled)
	require.NoError(t, waitErr(t, errCh1))

	second.reply <- reply{result: &domain.DiscoveryResult{
		Variables: []domain.CausalVariable{varA, varB},
		Algorithm: domain.AlgorithmDECI,
	}}
	require.NoError(t, waitErr(t, errCh2))

	assert.Equal(t, domain.AlgorithmDECI, getCell(t, store, state.Result).Graph.Algorithm)
	assert.False(t, c.IsLoading())
}

func TestSync_LatestInputsResetLast(t *testing.T) {
	disc := newControlledDiscoverer()
	backend := newStallingBackend()
	c, store := newTestCoordinatorOn(t, backend, disc, nil)
	ctx := context.Background()

	// The first sync stalls after reading variables a and b
	stalled, release := backend.arm(state.AutoRun.Name())
	errCh1 := make(chan error, 1)
	go func() {
		_, err := c.Sync(ctx)
		errCh1 <- err
	}()
	<-stalled

	require.NoError(t, state.Set(ctx, store, state.InModel, []string{"a"}))
	errCh2 := make(chan error, 1)
	go func() {
		_, err := c.Sync(ctx)
		errCh2 <- err
	}()
	release()

	require.NoError(t, waitErr(t, errCh1))
	require.NoError(t, waitErr(t, errCh2))

	result := getCell(t, store, state.Result)
	require.Len(t, result.Graph.Variables, 1)
	assert.Equal(t, "a", result.Graph.Variables[0].ColumnName)
}

func TestProgressMessage_RoundsHalfUp(t *testing.T) {
	assert.Equal(t, "Running causal discovery 43%...", ProgressMessage(42.5))
	assert.Equal(t, "Running causal discovery 3%...", ProgressMessage(2.5))
	assert.Equal(t, "Running causal discovery 42%...", ProgressMessage(42.4))
	assert.Equal(t, "Running causal discovery 0%...", ProgressMessage(0))
	assert.Equal(t, "Running causal discovery 100%...", ProgressMessage(100))
}

func TestClose_RejectsRuns(t *testing.T) {
	disc := newControlledDiscoverer()
	c, _ := newTestCoordinator(t, disc, nil)

	errCh := startRun(c)
	nextCall(t, disc)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, waitErr(t, errCh))

	assert.ErrorIs(t, c.Run(context.Background()), ErrClosed)
	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(domain.ErrCanceled))
	assert.True(t, IsCancellation(context.Canceled))
	assert.False(t, IsCancellation(errors.New("boom")))
}
