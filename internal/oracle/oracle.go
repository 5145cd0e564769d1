// Package oracle talks to the external AI grading service. The wire contract
// is an OpenAI-compatible chat completions endpoint that receives presigned
// page-image URLs plus the assigned rubric and answers with a strict-JSON
// verdict.
package oracle

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Client grades one submission. Implementations must honor ctx cancellation
// and return an error for anything that is not a well-formed verdict —
// transport failures, API errors, and unparseable replies all look the same
// to the caller, which flags and retries them uniformly.
type Client interface {
	Grade(ctx context.Context, req *GradeRequest) (*GradeResult, error)
}

// GradeRequest is the full grading context for one submission.
type GradeRequest struct {
	SubmissionID uuid.UUID
	ExamTitle    string
	MaxScore     float64
	Tasks        []TaskContext
	ImageURLs    []string // presigned GET URLs, page order
}

// TaskContext is the rubric slice for one assigned variant.
type TaskContext struct {
	Task              string  `json:"task"`
	Variant           string  `json:"variant,omitempty"`
	Statement         string  `json:"statement"`
	ReferenceSolution string  `json:"reference_solution,omitempty"`
	Rubric            string  `json:"rubric,omitempty"`
	MaxScore          float64 `json:"max_score"`
}

// GradeResult is the parsed oracle verdict. Unreadable verdicts are a valid
// outcome, not an error: they flag the submission for human review without
// burning a retry.
type GradeResult struct {
	Unreadable         bool             `json:"unreadable"`
	UnreadableReason   string           `json:"unreadable_reason,omitempty"`
	TotalScore         float64          `json:"total_score"`
	MaxScore           float64          `json:"max_score"`
	CriteriaScores     []CriterionScore `json:"criteria_scores,omitempty"`
	Feedback           string           `json:"feedback,omitempty"`
	Recommendations    []string         `json:"recommendations,omitempty"`
	FullTranscription  string           `json:"full_transcription_md,omitempty"`
	PageTranscriptions []string         `json:"per_page_transcriptions,omitempty"`

	// Raw preserves the verbatim verdict for the submission's analysis column.
	Raw json.RawMessage `json:"-"`
}

// CriterionScore is one rubric line of the verdict.
type CriterionScore struct {
	CriterionName string  `json:"criterion_name"`
	Score         float64 `json:"score"`
	MaxScore      float64 `json:"max_score"`
	Comment       string  `json:"comment,omitempty"`
}
