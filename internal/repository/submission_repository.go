package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// SubmissionRepository handles submission and submission image data access.
//
// Every pipeline transition is a single conditional UPDATE guarded on the
// current status. Zero affected rows never signals an error to callers; it
// means another worker, sweeper or reviewer got there first.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, session_id, exam_id, student_id, status, ai_score, final_score,
	max_score, ai_analysis, ai_comments, ai_error, ai_retry_count, flag_reasons,
	ai_request_started_at, ai_request_completed_at, ai_processed_at,
	teacher_comments, reviewed_by, reviewed_at, submitted_at, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	s := &model.Submission{}
	var flagReasons []byte
	err := row.Scan(&s.ID, &s.SessionID, &s.ExamID, &s.StudentID, &s.Status, &s.AIScore,
		&s.FinalScore, &s.MaxScore, &s.AIAnalysis, &s.AIComments, &s.AIError, &s.AIRetryCount,
		&flagReasons, &s.AIRequestStartedAt, &s.AIRequestCompletedAt, &s.AIProcessedAt,
		&s.TeacherComments, &s.ReviewedBy, &s.ReviewedAt, &s.SubmittedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(flagReasons) > 0 {
		if err := json.Unmarshal(flagReasons, &s.FlagReasons); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
}

// GetBySessionID retrieves the submission owned by a session.
func (r *SubmissionRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE session_id = $1`, sessionID))
}

// EnsureForSession creates the session's submission if none exists and returns
// the current row either way. The unique index on session_id keeps concurrent
// callers from producing a second submission.
func (r *SubmissionRepository) EnsureForSession(ctx context.Context, session *model.ExamSession, maxScore float64) (*model.Submission, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submissions (session_id, exam_id, student_id, status, max_score)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		session.ID, session.ExamID, session.StudentID, model.SubmissionStatusUploaded, maxScore,
	)
	if err != nil {
		return nil, err
	}
	return r.GetBySessionID(ctx, session.ID)
}

// MarkSubmitted stamps the explicit submit time. The status stays UPLOADED;
// grading starts later, driven by the completion sweep or a manual regrade.
func (r *SubmissionRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions SET submitted_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id,
	)
	return err
}

// ClaimUploadedByExam atomically flips every gradable UPLOADED submission of
// an exam to PROCESSING and returns the claimed ids. Submissions without
// images are left alone: there is nothing to grade. A single statement means
// two overlapping completion sweeps can never claim the same submission.
func (r *SubmissionRepository) ClaimUploadedByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE submissions
		 SET status = $1, updated_at = NOW()
		 WHERE exam_id = $2
		   AND status = $3
		   AND EXISTS (SELECT 1 FROM submission_images i WHERE i.submission_id = submissions.id)
		 RETURNING id`,
		model.SubmissionStatusProcessing, examID, model.SubmissionStatusUploaded,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ClaimRetryable atomically resets flagged-with-error submissions below the
// retry cap back to PROCESSING, clearing the error, and returns the claimed
// ids for enqueueing. Unreadable submissions never match: they carry no
// ai_error by construction.
func (r *SubmissionRepository) ClaimRetryable(ctx context.Context, maxRetries int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE submissions
		 SET status = $1, ai_error = NULL, updated_at = NOW()
		 WHERE status = $2
		   AND ai_error IS NOT NULL
		   AND ai_retry_count < $3
		 RETURNING id`,
		model.SubmissionStatusProcessing, model.SubmissionStatusFlagged, maxRetries,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ClaimForRegrade prepares a manual regrade from any status: increment the
// retry counter, clear the error, set PROCESSING. Returns the updated row.
func (r *SubmissionRepository) ClaimForRegrade(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, ai_error = NULL, ai_retry_count = ai_retry_count + 1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+submissionColumns,
		model.SubmissionStatusProcessing, id))
}

// BeginGrading claims a submission for one grading run: only PROCESSING or
// FLAGGED rows are claimable, which makes redelivered jobs no-ops. Returns
// false when the submission was already processed.
func (r *SubmissionRepository) BeginGrading(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $1, ai_request_started_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status IN ($1, $4)`,
		model.SubmissionStatusProcessing, startedAt, id, model.SubmissionStatusFlagged,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetPreliminary records a successful oracle result. Guarded on PROCESSING so
// a reviewer decision that landed mid-grade is never overwritten.
func (r *SubmissionRepository) SetPreliminary(ctx context.Context, id uuid.UUID, score float64, analysis json.RawMessage, comments string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $1, ai_score = $2, ai_analysis = $3, ai_comments = $4,
		     ai_error = NULL, ai_request_completed_at = $5, ai_processed_at = $5,
		     updated_at = NOW()
		 WHERE id = $6 AND status = $7`,
		model.SubmissionStatusPreliminary, score, analysis, comments,
		completedAt, id, model.SubmissionStatusProcessing,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FlagError marks a grading failure, appending the flag reason and optionally
// consuming one retry. The PROCESSING/FLAGGED guard keeps a late-arriving
// failure from clobbering a reviewer decision.
func (r *SubmissionRepository) FlagError(ctx context.Context, id uuid.UUID, errMsg string, incrementRetry bool, completedAt time.Time) (*model.Submission, error) {
	inc := 0
	if incrementRetry {
		inc = 1
	}
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1,
		     ai_error = $2,
		     ai_retry_count = ai_retry_count + $3,
		     flag_reasons = CASE
		       WHEN COALESCE(flag_reasons, '[]'::jsonb) ? $4 THEN COALESCE(flag_reasons, '[]'::jsonb)
		       ELSE COALESCE(flag_reasons, '[]'::jsonb) || to_jsonb($4::text)
		     END,
		     ai_request_completed_at = $5,
		     updated_at = NOW()
		 WHERE id = $6 AND status IN ($7, $1)
		 RETURNING `+submissionColumns,
		model.SubmissionStatusFlagged, errMsg, inc, model.FlagReasonProcessingError,
		completedAt, id, model.SubmissionStatusProcessing))
}

// FlagUnreadable marks a submission whose images the oracle could not read.
// No ai_error is written, which keeps the retry sweep away: new images and a
// human decision are required, not another attempt.
func (r *SubmissionRepository) FlagUnreadable(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $1,
		     ai_comments = $2,
		     flag_reasons = CASE
		       WHEN COALESCE(flag_reasons, '[]'::jsonb) ? $3 THEN COALESCE(flag_reasons, '[]'::jsonb)
		       ELSE COALESCE(flag_reasons, '[]'::jsonb) || to_jsonb($3::text)
		     END,
		     ai_request_completed_at = $4,
		     updated_at = NOW()
		 WHERE id = $5 AND status IN ($6, $1)`,
		model.SubmissionStatusFlagged, reason, model.FlagReasonUnreadable,
		completedAt, id, model.SubmissionStatusProcessing,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FlagEnqueueFailure parks a submission whose grading job could not be queued.
// Applied from any status so a requested regrade is never silently dropped.
func (r *SubmissionRepository) FlagEnqueueFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $1,
		     ai_error = $2,
		     flag_reasons = CASE
		       WHEN COALESCE(flag_reasons, '[]'::jsonb) ? $3 THEN COALESCE(flag_reasons, '[]'::jsonb)
		       ELSE COALESCE(flag_reasons, '[]'::jsonb) || to_jsonb($3::text)
		     END,
		     updated_at = NOW()
		 WHERE id = $4`,
		model.SubmissionStatusFlagged, errMsg, model.FlagReasonEnqueueFailed, id,
	)
	return err
}

// Approve accepts the AI score as final. Allowed from any non-terminal status
// holding an AI score.
func (r *SubmissionRepository) Approve(ctx context.Context, id uuid.UUID, reviewerID int, comments string, at time.Time) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, final_score = ai_score, teacher_comments = $2,
		     reviewed_by = $3, reviewed_at = $4, updated_at = NOW()
		 WHERE id = $5 AND status NOT IN ($1, $6) AND ai_score IS NOT NULL
		 RETURNING `+submissionColumns,
		model.SubmissionStatusApproved, comments, reviewerID, at,
		id, model.SubmissionStatusRejected))
}

// OverrideScore sets an explicit final score regardless of the AI result.
func (r *SubmissionRepository) OverrideScore(ctx context.Context, id uuid.UUID, finalScore float64, reviewerID int, comments string, at time.Time) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, final_score = $2, teacher_comments = $3,
		     reviewed_by = $4, reviewed_at = $5, updated_at = NOW()
		 WHERE id = $6 AND status <> $7
		 RETURNING `+submissionColumns,
		model.SubmissionStatusApproved, finalScore, comments, reviewerID, at,
		id, model.SubmissionStatusRejected))
}

// Reject closes a flagged submission as unsalvageable.
func (r *SubmissionRepository) Reject(ctx context.Context, id uuid.UUID, reviewerID int, reason string, at time.Time) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, teacher_comments = $2, reviewed_by = $3, reviewed_at = $4,
		     updated_at = NOW()
		 WHERE id = $5 AND status = $6
		 RETURNING `+submissionColumns,
		model.SubmissionStatusRejected, reason, reviewerID, at,
		id, model.SubmissionStatusFlagged))
}

// ListByExam retrieves an exam's submissions with an optional status filter.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID, status *model.SubmissionStatus, limit, offset int) ([]model.Submission, int, error) {
	countQuery := `SELECT COUNT(*) FROM submissions WHERE exam_id = $1`
	listQuery := `SELECT ` + submissionColumns + ` FROM submissions WHERE exam_id = $1`
	countArgs := []any{examID}
	listArgs := []any{examID}

	if status != nil {
		countQuery += ` AND status = $2`
		listQuery += ` AND status = $2`
		countArgs = append(countArgs, *status)
		listArgs = append(listArgs, *status)
		listQuery += ` ORDER BY updated_at DESC LIMIT $3 OFFSET $4`
	} else {
		listQuery += ` ORDER BY updated_at DESC LIMIT $2 OFFSET $3`
	}
	listArgs = append(listArgs, limit, offset)

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, *s)
	}
	return subs, total, rows.Err()
}

// CountByStatusForExam aggregates an exam's submissions by status.
func (r *SubmissionRepository) CountByStatusForExam(ctx context.Context, examID uuid.UUID) (map[model.SubmissionStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM submissions WHERE exam_id = $1 GROUP BY status`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SubmissionStatus]int)
	for rows.Next() {
		var status model.SubmissionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectIDs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
