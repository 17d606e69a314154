package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/application/sessions"
)

// SessionResponse is returned when a session is created
type SessionResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeSessionError maps session errors to HTTP responses
func (s *Server) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Session not found")
	case errors.Is(err, sessions.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		s.logger.Error("session operation failed",
			zap.String("session_id", c.Param("id")),
			zap.Error(err))
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	workers := "ok"
	if s.health != nil && !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
		workers = "unhealthy"
	}

	health := "healthy"
	if status != http.StatusOK {
		health = "degraded"
	}

	c.JSON(status, gin.H{
		"status":    health,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"sessions": "ok",
			"workers":  workers,
		},
	})
}

// handleCreateSession handles session creation
func (s *Server) handleCreateSession(c *gin.Context) {
	id, err := s.sessions.Create(c.Request.Context())
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{
		ID:        id,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListSessions handles listing sessions
func (s *Server) handleListSessions(c *gin.Context) {
	ids := s.sessions.List()

	c.JSON(http.StatusOK, gin.H{
		"sessions": ids,
		"total":    len(ids),
	})
}

// handleGetSession handles getting session details
func (s *Server) handleGetSession(c *gin.Context) {
	snapshot, err := s.sessions.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// handleUpdateSession applies a partial update of the discovery inputs
func (s *Server) handleUpdateSession(c *gin.Context) {
	id := c.Param("id")

	var patch sessions.InputsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.logger.Debug("invalid request", zap.Error(err))
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.sessions.Update(c.Request.Context(), id, patch); err != nil {
		s.writeSessionError(c, err)
		return
	}

	snapshot, err := s.sessions.Snapshot(c.Request.Context(), id)
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// handleDeleteSession handles session deletion
func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleUploadDataset replaces the session dataset with a CSV body
func (s *Server) handleUploadDataset(c *gin.Context) {
	id := c.Param("id")
	if !s.sessions.Exists(id) {
		s.writeSessionError(c, fmt.Errorf("%w: %s", sessions.ErrSessionNotFound, id))
		return
	}
	limitBody(c, s.maxDatasetBytes)

	ds, err := parseCSV(c.Request.Body, c.DefaultQuery("name", "dataset.csv"))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_DATASET", err.Error())
		return
	}

	if err := s.sessions.SetDataset(c.Request.Context(), id, ds); err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"columns": len(ds.Columns),
		"rows":    ds.Rows(),
	})
}

// handleRun starts causal discovery in the background
func (s *Server) handleRun(c *gin.Context) {
	id := c.Param("id")

	if err := s.sessions.Run(id); err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "started",
	})
}

// handleStop cancels the running discovery
func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")

	if err := s.sessions.Stop(c.Request.Context(), id); err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": "stopped",
	})
}

// handleGetResult returns the current discovery result
func (s *Server) handleGetResult(c *gin.Context) {
	result, err := s.sessions.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleGetWorkerPool returns the worker pool status
func (s *Server) handleGetWorkerPool(c *gin.Context) {
	if s.health == nil {
		writeError(c, http.StatusServiceUnavailable, "WORKERS_NOT_AVAILABLE", "Worker pool is not configured")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": s.health.GetStatus(),
	})
}
