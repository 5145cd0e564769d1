package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// ProgressRepository provides data access for grading-progress monitoring:
// session counts, submission status counts and the recent event feed.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// CountSessionsByStatus returns how many sessions an exam has in each state.
func (r *ProgressRepository) CountSessionsByStatus(ctx context.Context, examID uuid.UUID) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*)
		 FROM exam_sessions
		 WHERE exam_id = $1
		 GROUP BY status`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status model.SessionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListEventsBySubmission returns one submission's full transition history,
// oldest first.
func (r *ProgressRepository) ListEventsBySubmission(ctx context.Context, submissionID uuid.UUID) ([]model.SubmissionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, submission_id, from_status, to_status, detail, created_at
		 FROM submission_events
		 WHERE submission_id = $1
		 ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.SubmissionEvent
	for rows.Next() {
		var ev model.SubmissionEvent
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.FromStatus, &ev.ToStatus,
			&ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListRecentEvents returns an exam's latest submission status transitions,
// newest first.
func (r *ProgressRepository) ListRecentEvents(ctx context.Context, examID uuid.UUID, limit int) ([]model.SubmissionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ev.id, ev.submission_id, ev.from_status, ev.to_status, ev.detail, ev.created_at
		 FROM submission_events ev
		 JOIN submissions s ON ev.submission_id = s.id
		 WHERE s.exam_id = $1
		 ORDER BY ev.id DESC
		 LIMIT $2`, examID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.SubmissionEvent
	for rows.Next() {
		var ev model.SubmissionEvent
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.FromStatus, &ev.ToStatus,
			&ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
