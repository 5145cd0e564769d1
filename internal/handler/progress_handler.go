package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/inkgrade/inkgrade-backend/internal/middleware"
	"github.com/inkgrade/inkgrade-backend/internal/response"
	"github.com/inkgrade/inkgrade-backend/internal/service"
	ws "github.com/inkgrade/inkgrade-backend/internal/websocket"
)

const (
	// progressInterval is how often the stream pushes a fresh snapshot.
	progressInterval = 15 * time.Second
	// pingInterval keeps intermediaries from dropping quiet connections.
	pingInterval = 30 * time.Second
	// snapshotTimeout prevents a slow aggregate query from blocking the
	// push loop.
	snapshotTimeout = 5 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProgressHandler serves grading-progress monitoring for reviewers: a
// polled snapshot endpoint and a WebSocket stream pushing the same
// snapshot on an interval.
type ProgressHandler struct {
	progressService *service.ProgressService
	examService     *service.ExamService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(
	progressService *service.ProgressService,
	examService *service.ExamService,
	log zerolog.Logger,
	allowedOrigins []string,
) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		examService:     examService,
		log:             log.With().Str("component", "progress_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// GetProgress godoc
// GET /api/v1/review/exams/:exam_id/progress
// Returns status counts and the most recent pipeline events for one exam.
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.examService.GetByID(c.Request.Context(), examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	progress, err := h.progressService.Snapshot(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// StreamProgress godoc
// WS /api/v1/review/exams/:exam_id/progress/ws
// Upgrades to WebSocket and pushes a progress snapshot every 15 seconds,
// with control pings in between. Push-only: client messages are discarded.
func (h *ProgressHandler) StreamProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	if _, err := h.examService.GetByID(c.Request.Context(), examID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("teacher_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Reviewer attached to progress stream")

	// The stream never expects client data, but a reader must run anyway:
	// gorilla processes control frames (pong, close) inside ReadMessage.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	reqCtx := c.Request.Context()

	if !h.pushSnapshot(reqCtx, conn, examID, wsLog) {
		return
	}

	refreshTicker := time.NewTicker(progressInterval)
	defer refreshTicker.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			wsLog.Info().Msg("Reviewer detached from progress stream")
			return
		case <-done:
			wsLog.Debug().Msg("Connection closed by client")
			return
		case <-refreshTicker.C:
			if !h.pushSnapshot(reqCtx, conn, examID, wsLog) {
				return
			}
		case <-pingTicker.C:
			if err := ws.Ping(conn); err != nil {
				wsLog.Debug().Err(err).Msg("Ping failed, dropping connection")
				return
			}
		}
	}
}

// pushSnapshot sends one progress frame. Returns false when the connection
// is no longer usable.
func (h *ProgressHandler) pushSnapshot(ctx context.Context, conn *websocket.Conn, examID uuid.UUID, wsLog zerolog.Logger) bool {
	snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	progress, err := h.progressService.Snapshot(snapCtx, examID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Progress snapshot failed")
		// Keep the stream alive; the next tick may succeed.
		return ws.WriteError(conn, "snapshot temporarily unavailable") == nil
	}

	if err := ws.WriteTyped(conn, ws.ProgressFrame{Event: ws.EventProgress, Progress: progress}); err != nil {
		wsLog.Debug().Err(err).Msg("Progress push failed, dropping connection")
		return false
	}
	return true
}
