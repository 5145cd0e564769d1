package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// ExamSessionRepository handles exam session data access. State transitions
// are expressed as conditional updates so that concurrent observers of one
// session cannot both win; callers treat zero affected rows as "someone else
// already handled it".
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, attempt_number, status, variant_seed,
	variant_assignments, started_at, expires_at, submitted_at, last_auto_save_at,
	auto_save_data, ip_address, user_agent, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var assignments []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.AttemptNumber, &s.Status, &s.VariantSeed,
		&assignments, &s.StartedAt, &s.ExpiresAt, &s.SubmittedAt, &s.LastAutoSaveAt,
		&s.AutoSaveData, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(assignments) > 0 {
		if err := json.Unmarshal(assignments, &s.VariantAssignments); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetByID retrieves a session by its UUID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// FindActive retrieves the student's ACTIVE session for an exam, if any.
func (r *ExamSessionRepository) FindActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status = $3`,
		examID, studentID, model.SessionStatusActive))
}

// CountAttempts returns how many sessions the student has opened for an exam.
func (r *ExamSessionRepository) CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	return n, err
}

// Create inserts a new ACTIVE session. A partial unique index on
// (exam_id, student_id) WHERE status = 'ACTIVE' backs the ON CONFLICT clause:
// when two enter calls race, exactly one row is created and the loser gets
// pgx.ErrNoRows, after which it should fetch the winner via FindActive.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	assignments, err := json.Marshal(s.VariantAssignments)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions
		   (exam_id, student_id, attempt_number, status, variant_seed, variant_assignments,
		    started_at, expires_at, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (exam_id, student_id) WHERE status = 'ACTIVE' DO NOTHING
		 RETURNING id, created_at, updated_at`,
		s.ExamID, s.StudentID, s.AttemptNumber, model.SessionStatusActive, s.VariantSeed,
		assignments, s.StartedAt, s.ExpiresAt, s.IPAddress, s.UserAgent,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// MarkSubmitted transitions a session to SUBMITTED, guarded on the status the
// caller observed. Returns false when another actor transitioned it first.
func (r *ExamSessionRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time, from model.SessionStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, submitted_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		model.SessionStatusSubmitted, at, id, from,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Expire transitions an ACTIVE session to EXPIRED, stamping submitted_at with
// the deadline rather than the observing wall clock. Idempotent: a second
// caller updates zero rows.
func (r *ExamSessionRepository) Expire(ctx context.Context, id uuid.UUID, deadline time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, submitted_at = COALESCE(submitted_at, $2), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		model.SessionStatusExpired, deadline, id, model.SessionStatusActive,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateAutoSave stores a draft-work snapshot. Guarded on ACTIVE so a late
// flush cannot touch a session that has already been submitted or expired.
func (r *ExamSessionRepository) UpdateAutoSave(ctx context.Context, id uuid.UUID, data json.RawMessage, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET auto_save_data = $1, last_auto_save_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		data, at, id, model.SessionStatusActive,
	)
	return err
}

// ActiveSessionDeadline pairs an ACTIVE session with its exam end so the
// expiry sweep can compute hard deadlines without a second round trip.
type ActiveSessionDeadline struct {
	SessionID uuid.UUID
	ExamID    uuid.UUID
	StudentID int
	ExpiresAt time.Time
	ExamEnd   time.Time
}

// ListActiveWithExamEnd retrieves every ACTIVE session joined with its exam's
// end time, oldest expiry first.
func (r *ExamSessionRepository) ListActiveWithExamEnd(ctx context.Context) ([]ActiveSessionDeadline, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.exam_id, s.student_id, s.expires_at, e.end_time
		 FROM exam_sessions s
		 JOIN exams e ON s.exam_id = e.id
		 WHERE s.status = $1
		 ORDER BY s.expires_at`,
		model.SessionStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveSessionDeadline
	for rows.Next() {
		var d ActiveSessionDeadline
		if err := rows.Scan(&d.SessionID, &d.ExamID, &d.StudentID, &d.ExpiresAt, &d.ExamEnd); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListByStudent retrieves a student's sessions, newest first.
func (r *ExamSessionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
