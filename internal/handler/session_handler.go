package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/inkgrade/inkgrade-backend/internal/middleware"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/response"
	"github.com/inkgrade/inkgrade-backend/internal/service"
	"github.com/inkgrade/inkgrade-backend/internal/validator"
)

// SessionHandler handles the student exam-taking flow: entering an exam,
// polling session state, draft auto-save, page uploads, submission and the
// released result.
type SessionHandler struct {
	sessionService    *service.ExamSessionService
	submissionService *service.SubmissionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.ExamSessionService,
	submissionService *service.SubmissionService,
) *SessionHandler {
	return &SessionHandler{
		sessionService:    sessionService,
		submissionService: submissionService,
	}
}

// failSessionError maps the errors shared by every session-scoped endpoint.
// Endpoint-specific cases are handled before falling back to this.
func failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotSessionOwner)
	case errors.Is(err, service.ErrSessionExpired):
		response.Fail(c, http.StatusConflict, response.ErrSessionExpired)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// Enter godoc
// POST /api/v1/exams/:exam_id/enter
// Starts an exam attempt and assigns task variants. Re-entering while a
// session is ACTIVE returns that same session, so page reloads are safe.
func (h *SessionHandler) Enter(c *gin.Context) {
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

	session, err := h.sessionService.Enter(c.Request.Context(), examID, claims.UserID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
		case errors.Is(err, service.ErrExamWindowClosed):
			response.Fail(c, http.StatusConflict, response.ErrExamWindowClosed)
		case errors.Is(err, service.ErrAttemptsExhausted):
			response.Fail(c, http.StatusConflict, response.ErrAttemptsExhausted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetState godoc
// GET /api/v1/sessions/:session_id
// Returns the session with its remaining seconds and assigned variants.
// Reading an overdue session expires it first.
func (h *SessionHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// AutoSave godoc
// POST /api/v1/sessions/:session_id/auto-save
// Accepts a draft-work snapshot. At most one save per five seconds is
// accepted per session; persistence happens asynchronously.
func (h *SessionHandler) AutoSave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AutoSaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	savedAt, err := h.sessionService.AutoSave(c.Request.Context(), sessionID, claims.UserID, req.Data)
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			response.Fail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved_at": savedAt})
}

// Submit godoc
// POST /api/v1/sessions/:session_id/submit
// Finalizes the session. Accepted while ACTIVE and for a short grace window
// past the deadline, even if the expiry sweep got there first.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, submission, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":    session,
		"submission": submission,
	})
}

// MySessions godoc
// GET /api/v1/sessions
// Lists the calling student's attempts across all exams, newest first.
func (h *SessionHandler) MySessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.sessionService.MySessions(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// UploadImage godoc
// POST /api/v1/sessions/:session_id/images
// Accepts one photographed answer page (multipart field "image") and appends
// it to the session's submission.
func (h *SessionHandler) UploadImage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	image, err := h.submissionService.UploadImage(c.Request.Context(), sessionID, claims.UserID, file, header)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusBadRequest, response.ErrFileTooLarge)
		case errors.Is(err, service.ErrTooManyImages):
			response.Fail(c, http.StatusConflict, response.ErrTooManyImages)
		case errors.Is(err, service.ErrUploadsLocked):
			response.Fail(c, http.StatusConflict, response.ErrUploadsLocked)
		default:
			failSessionError(c, err)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"image": image})
}

// DeleteImage godoc
// DELETE /api/v1/sessions/:session_id/images/:image_id
// Removes an uploaded page while the session is still ACTIVE.
func (h *SessionHandler) DeleteImage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	imageID, err := uuid.Parse(c.Param("image_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.submissionService.DeleteImage(c.Request.Context(), sessionID, imageID, claims.UserID); err != nil {
		if errors.Is(err, service.ErrUploadsLocked) {
			response.Fail(c, http.StatusConflict, response.ErrUploadsLocked)
			return
		}
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// Result godoc
// GET /api/v1/sessions/:session_id/result
// Returns the student's own result. Scores and feedback stay hidden until a
// teacher approves or rejects the submission.
func (h *SessionHandler) Result(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.submissionService.Result(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}
