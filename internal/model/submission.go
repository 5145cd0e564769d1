package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates grading pipeline states.
type SubmissionStatus string

const (
	SubmissionStatusUploaded    SubmissionStatus = "UPLOADED"
	SubmissionStatusProcessing  SubmissionStatus = "PROCESSING"
	SubmissionStatusPreliminary SubmissionStatus = "PRELIMINARY"
	SubmissionStatusApproved    SubmissionStatus = "APPROVED"
	SubmissionStatusFlagged     SubmissionStatus = "FLAGGED"
	SubmissionStatusRejected    SubmissionStatus = "REJECTED"
)

// Terminal reports whether the grading pipeline is finished with this submission.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionStatusApproved || s == SubmissionStatusRejected
}

// Gradable reports whether a grading job may run against this status.
// Anything else is treated as already processed.
func (s SubmissionStatus) Gradable() bool {
	return s == SubmissionStatusProcessing || s == SubmissionStatusFlagged
}

// Flag reasons recorded on FLAGGED submissions.
const (
	FlagReasonProcessingError = "ai_processing_error"
	FlagReasonUnreadable      = "unreadable_images"
	FlagReasonEnqueueFailed   = "enqueue_failed"
)

// MaxGradingRetries caps automated requeues of a failed grading job.
// Manual regrades may push ai_retry_count past this.
const MaxGradingRetries = 3

// Submission is the gradable artifact of exactly one exam session.
type Submission struct {
	ID                   uuid.UUID        `json:"id"`
	SessionID            uuid.UUID        `json:"session_id"`
	ExamID               uuid.UUID        `json:"exam_id"`
	StudentID            int              `json:"student_id"`
	Status               SubmissionStatus `json:"status"`
	AIScore              *float64         `json:"ai_score,omitempty"`
	FinalScore           *float64         `json:"final_score,omitempty"`
	MaxScore             float64          `json:"max_score"`
	AIAnalysis           json.RawMessage  `json:"ai_analysis,omitempty"`
	AIComments           string           `json:"ai_comments,omitempty"`
	AIError              *string          `json:"ai_error,omitempty"`
	AIRetryCount         int              `json:"ai_retry_count"`
	FlagReasons          []string         `json:"flag_reasons,omitempty"`
	AIRequestStartedAt   *time.Time       `json:"ai_request_started_at,omitempty"`
	AIRequestCompletedAt *time.Time       `json:"ai_request_completed_at,omitempty"`
	AIProcessedAt        *time.Time       `json:"ai_processed_at,omitempty"`
	TeacherComments      string           `json:"teacher_comments,omitempty"`
	ReviewedBy           *int             `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time       `json:"reviewed_at,omitempty"`
	SubmittedAt          *time.Time       `json:"submitted_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// SubmissionImage is one ordered page of a submission, stored in the blob store.
type SubmissionImage struct {
	ID            uuid.UUID `json:"id"`
	SubmissionID  uuid.UUID `json:"submission_id"`
	ObjectKey     string    `json:"-"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"file_size"`
	MimeType      string    `json:"mime_type"`
	OrderIndex    int       `json:"order_index"`
	Transcription *string   `json:"transcription,omitempty"`
	UploadedAt    time.Time `json:"uploaded_at"`

	// ViewURL is a short-lived presigned GET URL, populated only on the
	// reviewer detail view. Never persisted.
	ViewURL string `json:"view_url,omitempty"`
}

// SubmissionEvent is one audit record of a status transition.
// Written asynchronously by the event worker.
type SubmissionEvent struct {
	ID           int64            `json:"id"`
	SubmissionID uuid.UUID        `json:"submission_id"`
	FromStatus   SubmissionStatus `json:"from_status"`
	ToStatus     SubmissionStatus `json:"to_status"`
	Detail       string           `json:"detail,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ApproveRequest accepts the AI score as final, with optional teacher notes.
type ApproveRequest struct {
	Comments string `json:"comments" binding:"omitempty,max=2000"`
}

// OverrideScoreRequest replaces the final score regardless of the AI result.
type OverrideScoreRequest struct {
	FinalScore float64 `json:"final_score" binding:"min=0"`
	Comments   string  `json:"comments" binding:"omitempty,max=2000"`
}

// RejectRequest marks a flagged submission as unsalvageable.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=2000"`
}

// GradingProgress aggregates an exam's submissions and sessions by status
// for monitoring.
type GradingProgress struct {
	ExamID       uuid.UUID                `json:"exam_id"`
	Counts       map[SubmissionStatus]int `json:"counts"`
	Sessions     map[SessionStatus]int    `json:"sessions"`
	Total        int                      `json:"total"`
	RecentEvents []SubmissionEvent        `json:"recent_events,omitempty"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// StudentResult is the student's view of their own submission. Scores,
// feedback and the analysis stay hidden until a reviewer approves —
// PRELIMINARY looks no different from PROCESSING to the student.
type StudentResult struct {
	SubmissionID    uuid.UUID        `json:"submission_id"`
	SessionID       uuid.UUID        `json:"session_id"`
	ExamID          uuid.UUID        `json:"exam_id"`
	Status          SubmissionStatus `json:"status"`
	MaxScore        float64          `json:"max_score"`
	FinalScore      *float64         `json:"final_score,omitempty"`
	Feedback        string           `json:"feedback,omitempty"`
	Analysis        json.RawMessage  `json:"analysis,omitempty"`
	TeacherComments string           `json:"teacher_comments,omitempty"`
	ImageCount      int              `json:"image_count"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
}

// ReviewTask is a SessionTask enriched with grading context reviewers may
// see but students never do.
type ReviewTask struct {
	SessionTask
	ReferenceSolution string `json:"reference_solution,omitempty"`
	Rubric            string `json:"rubric,omitempty"`
}

// SubmissionDetail is the reviewer's full view of one submission: the row,
// its pages with short-lived view URLs, the transition history, and the
// session's variant context.
type SubmissionDetail struct {
	Submission *Submission       `json:"submission"`
	Images     []SubmissionImage `json:"images"`
	Events     []SubmissionEvent `json:"events"`
	Session    *ExamSession      `json:"session,omitempty"`
	Tasks      []ReviewTask      `json:"tasks,omitempty"`
}
