package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/application/coordinator"
	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
	"github.com/showwhy/discoverd/internal/state"
)

// ErrSessionNotFound is returned for unknown session IDs
var ErrSessionNotFound = errors.New("session not found")

// InputsPatch is a partial update of the discovery inputs. Nil fields are
// left unchanged.
type InputsPatch struct {
	Variables   *[]domain.CausalVariable       `json:"variables,omitempty"`
	InModel     *[]string                      `json:"inModel,omitempty"`
	Constraints *domain.CausalGraphConstraints `json:"constraints,omitempty"`
	Algorithm   *domain.Algorithm              `json:"algorithm,omitempty"`
	DECIParams  *domain.DECIParams             `json:"deciParams,omitempty"`
	AutoRun     *bool                          `json:"autoRun,omitempty"`
}

// DatasetSummary describes the dataset of a session without its values
type DatasetSummary struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// Snapshot is the observable state of a session
type Snapshot struct {
	ID             string                        `json:"id"`
	CreatedAt      time.Time                     `json:"createdAt"`
	LastActive     time.Time                     `json:"lastActive"`
	Dataset        DatasetSummary                `json:"dataset"`
	Variables      []domain.CausalVariable       `json:"variables"`
	InModel        []string                      `json:"inModel"`
	Constraints    domain.CausalGraphConstraints `json:"constraints"`
	Algorithm      domain.Algorithm              `json:"algorithm"`
	DECIParams     domain.DECIParams             `json:"deciParams"`
	AutoRun        bool                          `json:"autoRun"`
	LoadingMessage string                        `json:"loadingMessage,omitempty"`
	ErrorMessage   string                        `json:"errorMessage,omitempty"`
	IsLoading      bool                          `json:"isLoading"`
}

// session holds the runtime state of a single session
type session struct {
	id          string
	store       *state.Store
	coordinator *coordinator.Coordinator
	createdAt   time.Time

	mu         sync.RWMutex
	lastActive time.Time
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Manager coordinates discovery sessions
type Manager struct {
	backend    ports.StateBackend
	eventBus   ports.EventBus
	discoverer ports.Discoverer
	metrics    ports.MetricsCollector
	validator  *Validator
	logger     *zap.Logger

	// Track active sessions
	sessions sync.Map // map[string]*session

	sessionTTL   time.Duration
	reapInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// NewManager creates a new session manager. A zero sessionTTL disables
// reaping.
func NewManager(
	backend ports.StateBackend,
	eventBus ports.EventBus,
	discoverer ports.Discoverer,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	sessionTTL, reapInterval time.Duration,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend:      backend,
		eventBus:     eventBus,
		discoverer:   discoverer,
		metrics:      metrics,
		validator:    validator,
		logger:       logger,
		sessionTTL:   sessionTTL,
		reapInterval: reapInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start restores persisted sessions and starts the idle session reaper
func (m *Manager) Start(ctx context.Context) error {
	ids, err := state.SessionIDs(ctx, m.backend)
	if err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}

	for _, id := range ids {
		s := m.newSession(id)
		createdAt, err := state.Get(ctx, s.store, state.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to restore session %s: %w", id, err)
		}
		s.createdAt = createdAt
		m.sessions.Store(id, s)

		// Reframe the result from the restored inputs
		if err := m.sync(ctx, s); err != nil {
			m.logger.Warn("failed to sync restored session",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}

	if len(ids) > 0 {
		m.logger.Info("sessions restored", zap.Int("count", len(ids)))
	}
	m.metrics.SetActiveSessions(m.count())

	if m.sessionTTL > 0 && m.reapInterval > 0 {
		go m.monitorSessions()
	}

	return nil
}

// Create creates a new empty session
func (m *Manager) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	s := m.newSession(id)

	if err := state.Set(ctx, s.store, state.CreatedAt, s.createdAt); err != nil {
		m.logger.Error("failed to save session",
			zap.String("session_id", id),
			zap.Error(err))
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	m.sessions.Store(id, s)
	m.metrics.SetActiveSessions(m.count())
	m.publish(ctx, domain.EventTypeSessionCreated, id, nil)

	m.logger.Info("session created", zap.String("session_id", id))
	return id, nil
}

// List returns the IDs of all sessions in creation order
func (m *Manager) List() []string {
	all := make([]*session, 0)
	m.sessions.Range(func(_, value interface{}) bool {
		all = append(all, value.(*session))
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].id < all[j].id
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})

	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.id)
	}
	return ids
}

// Exists reports whether a session is active
func (m *Manager) Exists(id string) bool {
	_, ok := m.sessions.Load(id)
	return ok
}

// Snapshot returns the observable state of a session
func (m *Manager) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	in, err := coordinator.LoadInputs(ctx, s.store)
	if err != nil {
		return nil, err
	}

	variables, err := state.Get(ctx, s.store, state.Variables)
	if err != nil {
		return nil, err
	}
	inModel, err := state.Get(ctx, s.store, state.InModel)
	if err != nil {
		return nil, err
	}
	loading, err := state.Get(ctx, s.store, state.LoadingMessage)
	if err != nil {
		return nil, err
	}
	errMessage, err := state.Get(ctx, s.store, state.ErrorMessage)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(in.Dataset.Columns))
	for _, col := range in.Dataset.Columns {
		columns = append(columns, col.Name)
	}

	return &Snapshot{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastActive: s.idleSince(),
		Dataset: DatasetSummary{
			Name:    in.Dataset.Name,
			Columns: columns,
			Rows:    in.Dataset.Rows(),
		},
		Variables:      variables,
		InModel:        inModel,
		Constraints:    in.Constraints,
		Algorithm:      in.Algorithm,
		DECIParams:     in.DECIParams,
		AutoRun:        in.AutoRun,
		LoadingMessage: loading,
		ErrorMessage:   errMessage,
		IsLoading:      s.coordinator.IsLoading(),
	}, nil
}

// Result returns the current discovery result of a session
func (m *Manager) Result(ctx context.Context, id string) (domain.ResultState, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.ResultState{}, err
	}

	return state.Get(ctx, s.store, state.Result)
}

// Update validates and applies an input patch. Auto-run sessions start a
// new discovery in the background.
func (m *Manager) Update(ctx context.Context, id string, patch InputsPatch) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()

	variables, err := pick(ctx, s.store, state.Variables, patch.Variables)
	if err != nil {
		return err
	}
	inModel, err := pick(ctx, s.store, state.InModel, patch.InModel)
	if err != nil {
		return err
	}
	constraints, err := pick(ctx, s.store, state.Constraints, patch.Constraints)
	if err != nil {
		return err
	}
	algorithm, err := pick(ctx, s.store, state.Algorithm, patch.Algorithm)
	if err != nil {
		return err
	}
	params, err := pick(ctx, s.store, state.DECIParams, patch.DECIParams)
	if err != nil {
		return err
	}

	if err := m.validator.ValidateInputs(variables, inModel, constraints, algorithm, params); err != nil {
		m.logger.Debug("session update rejected",
			zap.String("session_id", id),
			zap.Error(err))
		return err
	}

	if err := apply(ctx, s.store, state.Variables, patch.Variables); err != nil {
		return err
	}
	if err := apply(ctx, s.store, state.InModel, patch.InModel); err != nil {
		return err
	}
	if err := apply(ctx, s.store, state.Constraints, patch.Constraints); err != nil {
		return err
	}
	if err := apply(ctx, s.store, state.Algorithm, patch.Algorithm); err != nil {
		return err
	}
	if err := apply(ctx, s.store, state.DECIParams, patch.DECIParams); err != nil {
		return err
	}
	if err := apply(ctx, s.store, state.AutoRun, patch.AutoRun); err != nil {
		return err
	}

	return m.sync(ctx, s)
}

// SetDataset validates and replaces the dataset of a session
func (m *Manager) SetDataset(ctx context.Context, id string, ds domain.Dataset) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()

	if err := m.validator.ValidateDataset(ds); err != nil {
		return err
	}

	if err := state.Set(ctx, s.store, state.Dataset, ds); err != nil {
		return err
	}

	m.logger.Info("dataset updated",
		zap.String("session_id", id),
		zap.Int("columns", len(ds.Columns)),
		zap.Int("rows", ds.Rows()))

	return m.sync(ctx, s)
}

// Run starts a discovery for the session in the background
func (m *Manager) Run(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()

	m.startRun(s)
	return nil
}

// Stop cancels the running discovery of a session
func (m *Manager) Stop(ctx context.Context, id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()

	return s.coordinator.Stop(ctx)
}

// Delete stops a session and removes its state
func (m *Manager) Delete(ctx context.Context, id string) error {
	val, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s := val.(*session)

	if err := s.coordinator.Close(ctx); err != nil {
		m.logger.Warn("failed to stop session run",
			zap.String("session_id", id),
			zap.Error(err))
	}

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	m.metrics.SetActiveSessions(m.count())
	m.publish(ctx, domain.EventTypeSessionDeleted, id, nil)

	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// Shutdown stops every session and waits for background runs to return.
// Session state is kept in the backend.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down session manager")

	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*session)
		if err := s.coordinator.Close(ctx); err != nil {
			m.logger.Warn("failed to close session",
				zap.String("session_id", s.id),
				zap.Error(err))
		}
		return true
	})
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("session manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) newSession(id string) *session {
	store := state.NewStore(id, m.backend, m.eventBus, m.logger)
	now := time.Now()
	return &session{
		id:          id,
		store:       store,
		coordinator: coordinator.New(store, m.discoverer, m.eventBus, m.metrics, m.logger),
		createdAt:   now,
		lastActive:  now,
	}
}

func (m *Manager) get(id string) (*session, error) {
	val, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return val.(*session), nil
}

func (m *Manager) count() int {
	n := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// sync applies input changes and launches the run an auto-run session asks for
func (m *Manager) sync(ctx context.Context, s *session) error {
	action, err := s.coordinator.Sync(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync session %s: %w", s.id, err)
	}

	if action.Run {
		m.startRun(s)
	}
	return nil
}

func (m *Manager) startRun(s *session) {
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()

		if err := s.coordinator.Run(m.ctx); err != nil && !errors.Is(err, coordinator.ErrClosed) {
			m.logger.Error("discovery run failed",
				zap.String("session_id", s.id),
				zap.Error(err))
		}
		s.touch()
	}()
}

// monitorSessions deletes sessions idle for longer than the session TTL
func (m *Manager) monitorSessions() {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.reapIdle(time.Now())
		}
	}
}

func (m *Manager) reapIdle(now time.Time) {
	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*session)
		if s.coordinator.IsLoading() || now.Sub(s.idleSince()) < m.sessionTTL {
			return true
		}

		m.logger.Info("reaping idle session",
			zap.String("session_id", s.id),
			zap.Time("last_active", s.idleSince()))

		if err := m.Delete(m.ctx, s.id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Error("failed to reap session",
				zap.String("session_id", s.id),
				zap.Error(err))
		}
		return true
	})
}

func (m *Manager) publish(ctx context.Context, eventType domain.EventType, sessionID string, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, domain.SessionEventsTopic, event); err != nil {
		m.logger.Error("failed to publish session event",
			zap.String("session_id", sessionID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

// pick returns the patched value if set, otherwise the stored one
func pick[T any](ctx context.Context, store *state.Store, cell state.Cell[T], patched *T) (T, error) {
	if patched != nil {
		return *patched, nil
	}
	return state.Get(ctx, store, cell)
}

// apply writes the patched value if set
func apply[T any](ctx context.Context, store *state.Store, cell state.Cell[T], patched *T) error {
	if patched == nil {
		return nil
	}
	return state.Set(ctx, store, cell, *patched)
}
