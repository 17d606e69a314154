package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/domain"
	eventsmemory "github.com/showwhy/discoverd/pkg/adapters/events/memory"
	storagememory "github.com/showwhy/discoverd/pkg/adapters/storage/memory"
)

func TestStore_GetReturnsDefault(t *testing.T) {
	s := NewStore("s1", storagememory.NewInMemoryStateStorage(), nil, zap.NewNop())
	ctx := context.Background()

	result, err := Get(ctx, s, Result)
	require.NoError(t, err)
	assert.Equal(t, domain.EmptyResultState(), result)

	algorithm, err := Get(ctx, s, Algorithm)
	require.NoError(t, err)
	assert.Equal(t, domain.AlgorithmPC, algorithm)

	autoRun, err := Get(ctx, s, AutoRun)
	require.NoError(t, err)
	assert.False(t, autoRun)
}

func TestStore_SetGetReset(t *testing.T) {
	s := NewStore("s1", storagememory.NewInMemoryStateStorage(), nil, zap.NewNop())
	ctx := context.Background()

	vars := []domain.CausalVariable{{ColumnName: "a", DerivedFrom: []string{"x"}}}
	require.NoError(t, Set(ctx, s, Variables, vars))

	got, err := Get(ctx, s, Variables)
	require.NoError(t, err)
	assert.Equal(t, vars, got)

	require.NoError(t, Reset(ctx, s, Variables))

	got, err = Get(ctx, s, Variables)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	backend := storagememory.NewInMemoryStateStorage()
	a := NewStore("a", backend, nil, zap.NewNop())
	b := NewStore("b", backend, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, Set(ctx, a, ErrorMessage, "boom"))

	msg, err := Get(ctx, b, ErrorMessage)
	require.NoError(t, err)
	assert.Empty(t, msg)

	ids, err := SessionIDs(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	require.NoError(t, a.Clear(ctx))
	ids, err = SessionIDs(ctx, backend)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_PublishesStateChanges(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var cells []string
	require.NoError(t, bus.Subscribe(ctx, domain.SessionEventsTopic, func(ctx context.Context, event domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, domain.EventTypeStateChanged, event.Type)
		assert.Equal(t, "s1", event.SessionID)
		cells = append(cells, event.Data["cell"].(string)+":"+event.Data["op"].(string))
		return nil
	}))

	s := NewStore("s1", storagememory.NewInMemoryStateStorage(), bus, zap.NewNop())
	require.NoError(t, Set(ctx, s, AutoRun, true))
	require.NoError(t, Reset(ctx, s, Result))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cells) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"auto_run:set", "result:reset"}, cells)
}

type failingBackend struct {
	storagememory.InMemoryStateStorage
}

func (f *failingBackend) Load(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestStore_GetPropagatesBackendErrors(t *testing.T) {
	s := NewStore("s1", &failingBackend{}, nil, zap.NewNop())

	_, err := Get(context.Background(), s, Dataset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInModelVariables(t *testing.T) {
	vars := []domain.CausalVariable{{ColumnName: "a"}, {ColumnName: "b"}, {ColumnName: "c"}}

	got := InModelVariables(vars, []string{"c", "a", "missing"})
	assert.Equal(t, []domain.CausalVariable{{ColumnName: "a"}, {ColumnName: "c"}}, got)
}
