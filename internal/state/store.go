// Package state provides typed, named state cells for a discovery session.
//
// Cells are JSON-encoded into a ports.StateBackend under a per-session key
// prefix. Reading a missing cell yields its default value. Every Set or
// Reset publishes a state.changed event so that observers can re-read the
// session.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

const keyPrefix = "discover:session:"

// Store reads and writes the cells of one session
type Store struct {
	sessionID string
	backend   ports.StateBackend
	events    ports.EventBus
	logger    *zap.Logger
}

// NewStore creates a store for a session
func NewStore(sessionID string, backend ports.StateBackend, events ports.EventBus, logger *zap.Logger) *Store {
	return &Store{
		sessionID: sessionID,
		backend:   backend,
		events:    events,
		logger:    logger,
	}
}

// SessionID returns the session the store belongs to
func (s *Store) SessionID() string {
	return s.sessionID
}

// Cell is a named, typed state cell with a default value
type Cell[T any] struct {
	name string
	def  func() T
}

// NewCell declares a cell
func NewCell[T any](name string, def func() T) Cell[T] {
	return Cell[T]{name: name, def: def}
}

// Name returns the cell name
func (c Cell[T]) Name() string {
	return c.name
}

// Default returns the cell's default value
func (c Cell[T]) Default() T {
	if c.def == nil {
		var zero T
		return zero
	}
	return c.def()
}

// Get reads a cell, returning its default when unset
func Get[T any](ctx context.Context, s *Store, c Cell[T]) (T, error) {
	data, err := s.backend.Load(ctx, s.key(c.name))
	if err != nil {
		if errors.Is(err, ports.ErrStateNotFound) {
			return c.Default(), nil
		}
		var zero T
		return zero, fmt.Errorf("failed to load %s: %w", c.name, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unmarshal %s: %w", c.name, err)
	}
	return v, nil
}

// Set writes a cell
func Set[T any](ctx context.Context, s *Store, c Cell[T], v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.name, err)
	}

	if err := s.backend.Save(ctx, s.key(c.name), data); err != nil {
		return fmt.Errorf("failed to save %s: %w", c.name, err)
	}

	s.notify(ctx, c.name, "set")
	return nil
}

// Reset returns a cell to its default value
func Reset[T any](ctx context.Context, s *Store, c Cell[T]) error {
	if err := s.backend.Delete(ctx, s.key(c.name)); err != nil {
		return fmt.Errorf("failed to reset %s: %w", c.name, err)
	}

	s.notify(ctx, c.name, "reset")
	return nil
}

// Clear deletes every cell of the session
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.backend.List(ctx, s.key(""))
	if err != nil {
		return fmt.Errorf("failed to list session state: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.backend.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	return nil
}

func (s *Store) key(cell string) string {
	return keyPrefix + s.sessionID + ":" + cell
}

// notify publishes a state.changed event. Publish failures are logged only;
// the cell write already happened.
func (s *Store) notify(ctx context.Context, cell, op string) {
	if s.events == nil {
		return
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeStateChanged,
		SessionID: s.sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"cell": cell,
			"op":   op,
		},
	}

	if err := s.events.Publish(ctx, domain.SessionEventsTopic, event); err != nil {
		s.logger.Warn("failed to publish state change",
			zap.String("session_id", s.sessionID),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// SessionIDs returns the IDs of sessions that have state in backend
func SessionIDs(ctx context.Context, backend ports.StateBackend) ([]string, error) {
	keys, err := backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, keyPrefix)
		id, _, ok := strings.Cut(rest, ":")
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
