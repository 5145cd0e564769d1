package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusSubmitted SessionStatus = "SUBMITTED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether the session accepts no further student writes.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusExpired
}

// VariantAssignments maps a task type id to the variant assigned to the session.
type VariantAssignments map[uuid.UUID]uuid.UUID

// ExamSession represents one student's timed attempt at an exam.
type ExamSession struct {
	ID                 uuid.UUID          `json:"id"`
	ExamID             uuid.UUID          `json:"exam_id"`
	StudentID          int                `json:"student_id"`
	AttemptNumber      int                `json:"attempt_number"`
	Status             SessionStatus      `json:"status"`
	VariantSeed        int64              `json:"variant_seed"`
	VariantAssignments VariantAssignments `json:"variant_assignments"`
	StartedAt          time.Time          `json:"started_at"`
	ExpiresAt          time.Time          `json:"expires_at"`
	SubmittedAt        *time.Time         `json:"submitted_at,omitempty"`
	LastAutoSaveAt     *time.Time         `json:"last_auto_save_at,omitempty"`
	AutoSaveData       json.RawMessage    `json:"auto_save_data,omitempty"`
	IPAddress          string             `json:"-"`
	UserAgent          string             `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// AutoSaveRequest carries a draft-work snapshot from the client.
type AutoSaveRequest struct {
	Data json.RawMessage `json:"data" binding:"required"`
}

// SessionTask pairs a task type with the variant assigned to one session.
type SessionTask struct {
	TaskTypeID   uuid.UUID `json:"task_type_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	OrderIndex   int       `json:"order_index"`
	MaxScore     float64   `json:"max_score"`
	VariantID    uuid.UUID `json:"variant_id"`
	VariantLabel string    `json:"variant_label"`
	Content      string    `json:"content"`
}

// SessionState is the snapshot returned to the student while working.
type SessionState struct {
	Session          *ExamSession  `json:"session"`
	HardDeadline     time.Time     `json:"hard_deadline"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	Tasks            []SessionTask `json:"tasks"`
}
