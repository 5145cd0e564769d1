package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/inkgrade/inkgrade-backend/internal/middleware"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/response"
	"github.com/inkgrade/inkgrade-backend/internal/service"
	"github.com/inkgrade/inkgrade-backend/internal/validator"
)

// ReviewHandler handles the teacher review queue: listing submissions,
// inspecting one, and the four verdict actions.
type ReviewHandler struct {
	submissionService *service.SubmissionService
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(submissionService *service.SubmissionService) *ReviewHandler {
	return &ReviewHandler{submissionService: submissionService}
}

// failReviewError maps the errors shared by the verdict endpoints.
func failReviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotReviewable):
		response.Fail(c, http.StatusConflict, response.ErrNotReviewable)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// ListSubmissions godoc
// GET /api/v1/review/exams/:exam_id/submissions
// Lists an exam's submissions for review, optionally filtered by status.
func (h *ReviewHandler) ListSubmissions(c *gin.Context) {
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

	var status *model.SubmissionStatus
	if raw := c.Query("status"); raw != "" {
		s := model.SubmissionStatus(raw)
		switch s {
		case model.SubmissionStatusUploaded, model.SubmissionStatusProcessing,
			model.SubmissionStatusPreliminary, model.SubmissionStatusFlagged,
			model.SubmissionStatusApproved, model.SubmissionStatusRejected:
			status = &s
		default:
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
				"status": "unknown submission status",
			})
			return
		}
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	submissions, pagination, err := h.submissionService.ListForReview(c.Request.Context(), examID, status, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": submissions}, pagination)
}

// GetSubmission godoc
// GET /api/v1/review/submissions/:submission_id
// Returns one submission with presigned page URLs, its event history, the
// session, and the task variants the student answered.
func (h *ReviewHandler) GetSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.submissionService.Detail(c.Request.Context(), submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// Approve godoc
// POST /api/v1/review/submissions/:submission_id/approve
// Accepts the preliminary AI score as final and releases it to the student.
func (h *ReviewHandler) Approve(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ApproveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.submissionService.Approve(c.Request.Context(), submissionID, claims.UserID, req.Comments)
	if err != nil {
		failReviewError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": submission})
}

// Override godoc
// POST /api/v1/review/submissions/:submission_id/override
// Sets an explicit final score, replacing whatever the AI produced. Works
// from any non-terminal state, including FLAGGED.
func (h *ReviewHandler) Override(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.OverrideScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.submissionService.Override(c.Request.Context(), submissionID, claims.UserID, req.FinalScore, req.Comments)
	if err != nil {
		if errors.Is(err, service.ErrScoreExceedsMax) {
			response.Fail(c, http.StatusBadRequest, response.ErrScoreExceedsMax)
			return
		}
		failReviewError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": submission})
}

// Regrade godoc
// POST /api/v1/review/submissions/:submission_id/regrade
// Sends the submission back through AI grading at high priority.
func (h *ReviewHandler) Regrade(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	submission, err := h.submissionService.Regrade(c.Request.Context(), submissionID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrEnqueueFailed) {
			response.Fail(c, http.StatusInternalServerError, response.ErrEnqueueFailed)
			return
		}
		failReviewError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": submission})
}

// Reject godoc
// POST /api/v1/review/submissions/:submission_id/reject
// Marks a flagged submission unsalvageable. A reason is required; the
// student sees it on their result.
func (h *ReviewHandler) Reject(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.RejectRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.submissionService.Reject(c.Request.Context(), submissionID, claims.UserID, req.Reason)
	if err != nil {
		failReviewError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": submission})
}
