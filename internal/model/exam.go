package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusActive    ExamStatus = "ACTIVE"
	ExamStatusCompleted ExamStatus = "COMPLETED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents a timed examination. Exam content is authored elsewhere;
// this service reads it to govern sessions and writes only the COMPLETED
// transition performed by the completion sweep.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          ExamStatus `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	MaxAttempts     int        `json:"max_attempts"`
	CreatedBy       *int       `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Duration returns the per-session working time.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// Enterable reports whether new sessions may be started for this exam.
func (e *Exam) Enterable() bool {
	return e.Status == ExamStatusPublished || e.Status == ExamStatusActive
}

// TaskType is one graded problem slot of an exam. Each session is assigned
// exactly one variant per task type that has variants.
type TaskType struct {
	ID          uuid.UUID `json:"id"`
	ExamID      uuid.UUID `json:"exam_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OrderIndex  int       `json:"order_index"`
	MaxScore    float64   `json:"max_score"`
	Rubric      string    `json:"rubric,omitempty"`
}

// TaskVariant is one interchangeable formulation of a task type.
// The reference solution is never serialized to clients.
type TaskVariant struct {
	ID                uuid.UUID `json:"id"`
	TaskTypeID        uuid.UUID `json:"task_type_id"`
	VariantLabel      string    `json:"variant_label"`
	Content           string    `json:"content"`
	ReferenceSolution string    `json:"-"`
}

// ExamDetail is the student-facing exam view: the exam plus its task catalog.
// Variants are deliberately absent — a student sees only the variants
// assigned to their own session.
type ExamDetail struct {
	Exam          *Exam      `json:"exam"`
	TaskTypes     []TaskType `json:"task_types"`
	TotalMaxScore float64    `json:"total_max_score"`
}
