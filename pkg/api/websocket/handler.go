package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

const eventBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionRegistry reports which sessions exist
type SessionRegistry interface {
	Exists(id string) bool
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	sessions SessionRegistry
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, sessions SessionRegistry, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleSessionStream streams the events of one session to the client
func (h *Handler) HandleSessionStream(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.sessions.Exists(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Session not found",
			},
		})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before upgrading so no event after the handshake is missed
	eventChan := make(chan domain.Event, eventBuffer)
	if err := h.eventBus.Subscribe(ctx, domain.SessionEventsTopic, h.forward(sessionID, eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("session_id", sessionID),
			zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("session_id", sessionID),
		zap.String("client", c.ClientIP()))

	// The stream is write-only; reading detects the client closing it
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// forward passes the events of sessionID to ch without blocking the bus
func (h *Handler) forward(sessionID string, ch chan<- domain.Event) ports.EventHandler {
	return func(ctx context.Context, event domain.Event) error {
		if event.SessionID != sessionID {
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("session_id", sessionID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}
