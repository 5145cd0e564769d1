package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// ExamRepository handles exam, task type and variant data access. Exam content
// is authored by another system; everything here is read-only except the
// COMPLETED transition owned by the completion sweep.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, description, status, start_time, end_time,
	duration_minutes, max_attempts, created_by, created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.MaxAttempts, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// ListVisible retrieves exams students may see (published or running),
// newest entry window first.
func (r *ExamRepository) ListVisible(ctx context.Context, limit, offset int) ([]model.Exam, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE status IN ($1, $2)`,
		model.ExamStatusPublished, model.ExamStatusActive,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams
		 WHERE status IN ($1, $2)
		 ORDER BY start_time DESC
		 LIMIT $3 OFFSET $4`,
		model.ExamStatusPublished, model.ExamStatusActive, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// ListTaskTypes retrieves an exam's task types ordered by position.
func (r *ExamRepository) ListTaskTypes(ctx context.Context, examID uuid.UUID) ([]model.TaskType, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, title, description, order_index, max_score, rubric
		 FROM task_types
		 WHERE exam_id = $1
		 ORDER BY order_index, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.TaskType
	for rows.Next() {
		var t model.TaskType
		if err := rows.Scan(&t.ID, &t.ExamID, &t.Title, &t.Description,
			&t.OrderIndex, &t.MaxScore, &t.Rubric); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListVariantsByExam retrieves all variants of an exam grouped by task type.
func (r *ExamRepository) ListVariantsByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID][]model.TaskVariant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.id, v.task_type_id, v.variant_label, v.content, v.reference_solution
		 FROM task_variants v
		 JOIN task_types t ON v.task_type_id = t.id
		 WHERE t.exam_id = $1
		 ORDER BY v.task_type_id, v.id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTask := make(map[uuid.UUID][]model.TaskVariant)
	for rows.Next() {
		var v model.TaskVariant
		if err := rows.Scan(&v.ID, &v.TaskTypeID, &v.VariantLabel, &v.Content, &v.ReferenceSolution); err != nil {
			return nil, err
		}
		byTask[v.TaskTypeID] = append(byTask[v.TaskTypeID], v)
	}
	return byTask, rows.Err()
}

// SumMaxScore returns the total achievable score over an exam's task types.
func (r *ExamRepository) SumMaxScore(ctx context.Context, examID uuid.UUID) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(max_score), 0) FROM task_types WHERE exam_id = $1`, examID,
	).Scan(&sum)
	return sum, err
}

// FindRecentlyEnded retrieves exams whose entry window closed within the
// lookback period and that were never marked completed. Older exams are
// assumed handled by an earlier sweep.
func (r *ExamRepository) FindRecentlyEnded(ctx context.Context, now time.Time, lookback time.Duration) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams
		 WHERE status IN ($1, $2)
		   AND end_time <= $3
		   AND end_time >= $4
		 ORDER BY end_time`,
		model.ExamStatusPublished, model.ExamStatusActive, now, now.Add(-lookback),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// MarkCompleted flips an exam to COMPLETED. The status predicate makes the
// transition safe under overlapping sweep runs: the second caller updates
// zero rows and reports false.
func (r *ExamRepository) MarkCompleted(ctx context.Context, examID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status IN ($3, $4)`,
		model.ExamStatusCompleted, examID, model.ExamStatusPublished, model.ExamStatusActive,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
