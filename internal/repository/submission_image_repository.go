package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// SubmissionImageRepository handles the ordered pages of a submission.
type SubmissionImageRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionImageRepository creates a new SubmissionImageRepository.
func NewSubmissionImageRepository(pool *pgxpool.Pool) *SubmissionImageRepository {
	return &SubmissionImageRepository{pool: pool}
}

// Add appends an image at the next order index. A unique index on
// (submission_id, order_index) turns an upload race into a constraint error
// instead of two pages sharing a position.
func (r *SubmissionImageRepository) Add(ctx context.Context, img *model.SubmissionImage) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submission_images
		   (submission_id, object_key, filename, file_size, mime_type, order_index)
		 VALUES ($1, $2, $3, $4, $5,
		   (SELECT COALESCE(MAX(order_index) + 1, 0)
		    FROM submission_images WHERE submission_id = $1))
		 RETURNING id, order_index, uploaded_at`,
		img.SubmissionID, img.ObjectKey, img.Filename, img.FileSize, img.MimeType,
	).Scan(&img.ID, &img.OrderIndex, &img.UploadedAt)
}

// ListBySubmission retrieves a submission's images in page order.
func (r *SubmissionImageRepository) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]model.SubmissionImage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, submission_id, object_key, filename, file_size, mime_type,
		        order_index, transcription, uploaded_at
		 FROM submission_images
		 WHERE submission_id = $1
		 ORDER BY order_index`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []model.SubmissionImage
	for rows.Next() {
		var img model.SubmissionImage
		if err := rows.Scan(&img.ID, &img.SubmissionID, &img.ObjectKey, &img.Filename,
			&img.FileSize, &img.MimeType, &img.OrderIndex, &img.Transcription,
			&img.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// Count returns the number of images attached to a submission.
func (r *SubmissionImageRepository) Count(ctx context.Context, submissionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submission_images WHERE submission_id = $1`, submissionID,
	).Scan(&n)
	return n, err
}

// Delete removes an image and returns its object key so the caller can clean
// up the blob store. pgx.ErrNoRows means the image did not belong to the
// submission.
func (r *SubmissionImageRepository) Delete(ctx context.Context, imageID, submissionID uuid.UUID) (string, error) {
	var objectKey string
	err := r.pool.QueryRow(ctx,
		`DELETE FROM submission_images
		 WHERE id = $1 AND submission_id = $2
		 RETURNING object_key`,
		imageID, submissionID,
	).Scan(&objectKey)
	return objectKey, err
}

// SetTranscription attaches oracle-provided page text by order index.
func (r *SubmissionImageRepository) SetTranscription(ctx context.Context, submissionID uuid.UUID, orderIndex int, text string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submission_images
		 SET transcription = $1
		 WHERE submission_id = $2 AND order_index = $3`,
		text, submissionID, orderIndex,
	)
	return err
}
