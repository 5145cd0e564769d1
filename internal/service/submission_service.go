package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/examtime"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/response"
	"github.com/inkgrade/inkgrade-backend/internal/storage"
)

// Upload and review errors.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrTooManyImages       = errors.New("image limit reached for this submission")
	ErrUploadsLocked       = errors.New("submission has already entered grading")
	ErrNotReviewable       = errors.New("submission is not in a reviewable state")
	ErrScoreExceedsMax     = errors.New("final score exceeds the submission maximum")
	ErrEnqueueFailed       = errors.New("could not enqueue grading job")
)

// Allowed page-image MIME types. Phones produce HEIC; everything else is the
// usual web trio.
var allowedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// reviewImageTTL bounds the presigned view URLs embedded in the reviewer
// detail payload. Short on purpose: these land in browser devtools and logs.
const reviewImageTTL = 5 * time.Minute

// SubmissionService owns the submission lifecycle outside the grading run
// itself: page uploads, the student result view, and every reviewer verb.
type SubmissionService struct {
	submissionRepo *repository.SubmissionRepository
	imageRepo      *repository.SubmissionImageRepository
	sessionRepo    *repository.ExamSessionRepository
	examRepo       *repository.ExamRepository
	progressRepo   *repository.ProgressRepository
	store          *storage.BlobStore
	gradingQueue   *queue.GradingQueue
	events         *EventPublisher
	cfg            *config.Config
	log            zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	submissionRepo *repository.SubmissionRepository,
	imageRepo *repository.SubmissionImageRepository,
	sessionRepo *repository.ExamSessionRepository,
	examRepo *repository.ExamRepository,
	progressRepo *repository.ProgressRepository,
	store *storage.BlobStore,
	gradingQueue *queue.GradingQueue,
	events *EventPublisher,
	cfg *config.Config,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: submissionRepo,
		imageRepo:      imageRepo,
		sessionRepo:    sessionRepo,
		examRepo:       examRepo,
		progressRepo:   progressRepo,
		store:          store,
		gradingQueue:   gradingQueue,
		events:         events,
		cfg:            cfg,
		log:            log.With().Str("component", "submission_service").Logger(),
	}
}

// UploadImage stores one photographed page. Permitted only while the owning
// session is ACTIVE and inside its hard deadline; the submission row is
// created lazily on the first page.
func (s *SubmissionService) UploadImage(ctx context.Context, sessionID uuid.UUID, studentID int, file multipart.File, header *multipart.FileHeader) (*model.SubmissionImage, error) {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireWritable(ctx, session, exam); err != nil {
		return nil, err
	}

	contentType := header.Header.Get("Content-Type")
	if _, ok := allowedMIMETypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, contentType, strings.Join(allowedTypes(), ", "))
	}
	if header.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.cfg.MaxUploadBytes)
	}

	maxScore, err := submissionMaxScore(ctx, s.examRepo, session.ExamID)
	if err != nil {
		return nil, err
	}
	submission, err := s.submissionRepo.EnsureForSession(ctx, session, maxScore)
	if err != nil {
		return nil, fmt.Errorf("ensure submission: %w", err)
	}
	if submission.Status != model.SubmissionStatusUploaded {
		return nil, ErrUploadsLocked
	}

	count, err := s.imageRepo.Count(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}
	if count >= s.cfg.MaxImages {
		return nil, fmt.Errorf("%w: max %d", ErrTooManyImages, s.cfg.MaxImages)
	}

	key := storage.ObjectKey(sessionID, header.Filename)
	if err := s.store.Put(ctx, key, contentType, file, header.Size); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := &model.SubmissionImage{
		SubmissionID: submission.ID,
		ObjectKey:    key,
		Filename:     header.Filename,
		FileSize:     header.Size,
		MimeType:     contentType,
	}
	if err := s.imageRepo.Add(ctx, img); err != nil {
		// The row is the source of truth; a blob without one is garbage.
		if derr := s.store.Delete(ctx, key); derr != nil {
			s.log.Warn().Err(derr).Str("key", key).Msg("Orphaned blob after failed image insert")
		}
		return nil, fmt.Errorf("record image: %w", err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("submission_id", submission.ID.String()).
		Int("order_index", img.OrderIndex).
		Int64("size", img.FileSize).
		Msg("Page uploaded")
	return img, nil
}

// DeleteImage removes one page while the session is still ACTIVE and the
// submission has not entered grading.
func (s *SubmissionService) DeleteImage(ctx context.Context, sessionID, imageID uuid.UUID, studentID int) error {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return err
	}
	if err := s.requireWritable(ctx, session, exam); err != nil {
		return err
	}

	submission, err := s.submissionRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if submission.Status != model.SubmissionStatusUploaded {
		return ErrUploadsLocked
	}

	key, err := s.imageRepo.Delete(ctx, imageID, submission.ID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		// Orphaned blobs are harmless; the DB row is already gone.
		s.log.Warn().Err(err).Str("key", key).Msg("Blob delete failed after image removal")
	}
	return nil
}

// Result returns the student's view of their submission, creating the empty
// row on first read if nothing was ever uploaded. Grading internals stay
// hidden until a reviewer decision lands.
func (s *SubmissionService) Result(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.StudentResult, error) {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session.Status == model.SessionStatusActive && examtime.PastDeadline(now, session, exam) {
		if _, err := s.expireSession(ctx, session, exam); err != nil {
			return nil, err
		}
	}

	submission, err := s.submissionRepo.GetBySessionID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		maxScore, merr := submissionMaxScore(ctx, s.examRepo, session.ExamID)
		if merr != nil {
			return nil, merr
		}
		submission, err = s.submissionRepo.EnsureForSession(ctx, session, maxScore)
	}
	if err != nil {
		return nil, err
	}

	count, err := s.imageRepo.Count(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}

	result := &model.StudentResult{
		SubmissionID: submission.ID,
		SessionID:    submission.SessionID,
		ExamID:       submission.ExamID,
		Status:       submission.Status,
		MaxScore:     submission.MaxScore,
		ImageCount:   count,
		SubmittedAt:  submission.SubmittedAt,
	}

	switch submission.Status {
	case model.SubmissionStatusApproved:
		result.FinalScore = submission.FinalScore
		result.Feedback = submission.AIComments
		result.Analysis = submission.AIAnalysis
		result.TeacherComments = submission.TeacherComments
		result.ReviewedAt = submission.ReviewedAt
	case model.SubmissionStatusRejected:
		result.TeacherComments = submission.TeacherComments
		result.ReviewedAt = submission.ReviewedAt
	}

	return result, nil
}

// ListForReview retrieves an exam's submissions for the review queue.
func (s *SubmissionService) ListForReview(ctx context.Context, examID uuid.UUID, status *model.SubmissionStatus, page, perPage int) ([]model.Submission, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	subs, total, err := s.submissionRepo.ListByExam(ctx, examID, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if subs == nil {
		subs = []model.Submission{}
	}

	return subs, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Detail assembles the reviewer's view: submission, pages with presigned
// view URLs, the transition history, and the graded variant context.
func (s *SubmissionService) Detail(ctx context.Context, submissionID uuid.UUID) (*model.SubmissionDetail, error) {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	images, err := s.imageRepo.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	for i := range images {
		url, err := s.store.PresignGet(ctx, images[i].ObjectKey, reviewImageTTL)
		if err != nil {
			// The detail payload still works without inline previews.
			s.log.Warn().Err(err).Str("key", images[i].ObjectKey).Msg("Presign failed for review view")
			continue
		}
		images[i].ViewURL = url
	}

	events, err := s.progressRepo.ListEventsBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	session, err := s.sessionRepo.GetByID(ctx, submission.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	tasks, err := loadReviewTasks(ctx, s.examRepo, submission.ExamID, session.VariantAssignments)
	if err != nil {
		return nil, err
	}

	return &model.SubmissionDetail{
		Submission: submission,
		Images:     images,
		Events:     events,
		Session:    session,
		Tasks:      tasks,
	}, nil
}

// Approve accepts the AI score as the final score.
func (s *SubmissionService) Approve(ctx context.Context, submissionID uuid.UUID, teacherID int, comments string) (*model.Submission, error) {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.submissionRepo.Approve(ctx, submissionID, teacherID, comments, time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		// Terminal already, or there is no AI score to accept.
		return nil, ErrNotReviewable
	}
	if err != nil {
		return nil, fmt.Errorf("approve submission: %w", err)
	}

	s.events.Publish(ctx, submissionID, submission.Status, updated.Status, "approved by reviewer")
	s.log.Info().
		Str("submission_id", submissionID.String()).
		Int("reviewer", teacherID).
		Msg("Submission approved")
	return updated, nil
}

// Override sets an explicit final score, bounded by the submission maximum.
func (s *SubmissionService) Override(ctx context.Context, submissionID uuid.UUID, teacherID int, finalScore float64, comments string) (*model.Submission, error) {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if finalScore > submission.MaxScore {
		return nil, fmt.Errorf("%w: %g > %g", ErrScoreExceedsMax, finalScore, submission.MaxScore)
	}

	updated, err := s.submissionRepo.OverrideScore(ctx, submissionID, finalScore, teacherID, comments, time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotReviewable
	}
	if err != nil {
		return nil, fmt.Errorf("override score: %w", err)
	}

	s.events.Publish(ctx, submissionID, submission.Status, updated.Status, fmt.Sprintf("score overridden to %g", finalScore))
	s.log.Info().
		Str("submission_id", submissionID.String()).
		Float64("final_score", finalScore).
		Int("reviewer", teacherID).
		Msg("Score overridden")
	return updated, nil
}

// Regrade requeues a submission at human priority. The claim happens before
// the enqueue; if the queue is down the submission is flagged rather than
// silently dropped, so the request is never lost.
func (s *SubmissionService) Regrade(ctx context.Context, submissionID uuid.UUID, teacherID int) (*model.Submission, error) {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.submissionRepo.ClaimForRegrade(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("claim for regrade: %w", err)
	}
	s.events.Publish(ctx, submissionID, submission.Status, claimed.Status, "manual regrade requested")

	job := queue.NewGradingJob(submissionID, queue.PriorityRegrade, queue.ReasonManualRegrade)
	if err := s.gradingQueue.Enqueue(ctx, job); err != nil {
		s.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Regrade enqueue failed")
		if ferr := s.submissionRepo.FlagEnqueueFailure(ctx, submissionID, err.Error()); ferr != nil {
			s.log.Error().Err(ferr).Str("submission_id", submissionID.String()).Msg("Enqueue-failure flag failed")
		}
		s.events.Publish(ctx, submissionID, claimed.Status, model.SubmissionStatusFlagged, "grading enqueue failed")
		return nil, ErrEnqueueFailed
	}

	s.log.Info().
		Str("submission_id", submissionID.String()).
		Int("reviewer", teacherID).
		Int("retry_count", claimed.AIRetryCount).
		Msg("Regrade queued")
	return claimed, nil
}

// Reject closes a FLAGGED submission as unsalvageable.
func (s *SubmissionService) Reject(ctx context.Context, submissionID uuid.UUID, teacherID int, reason string) (*model.Submission, error) {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.submissionRepo.Reject(ctx, submissionID, teacherID, reason, time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotReviewable
	}
	if err != nil {
		return nil, fmt.Errorf("reject submission: %w", err)
	}

	s.events.Publish(ctx, submissionID, submission.Status, updated.Status, reason)
	s.log.Info().
		Str("submission_id", submissionID.String()).
		Int("reviewer", teacherID).
		Msg("Submission rejected")
	return updated, nil
}

// requireWritable gates student writes: the session must be ACTIVE and
// inside its hard deadline, self-healing expiry on the way.
func (s *SubmissionService) requireWritable(ctx context.Context, session *model.ExamSession, exam *model.Exam) error {
	switch session.Status {
	case model.SessionStatusSubmitted:
		return ErrAlreadySubmitted
	case model.SessionStatusExpired:
		return ErrSessionExpired
	}
	if examtime.PastDeadline(time.Now().UTC(), session, exam) {
		if _, err := s.expireSession(ctx, session, exam); err != nil {
			return err
		}
		return ErrSessionExpired
	}
	return nil
}

func (s *SubmissionService) expireSession(ctx context.Context, session *model.ExamSession, exam *model.Exam) (bool, error) {
	deadline := examtime.HardDeadline(session, exam)
	expired, err := s.sessionRepo.Expire(ctx, session.ID, deadline)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	maxScore, err := submissionMaxScore(ctx, s.examRepo, session.ExamID)
	if err != nil {
		return expired, err
	}
	if _, err := s.submissionRepo.EnsureForSession(ctx, session, maxScore); err != nil {
		return expired, fmt.Errorf("ensure submission: %w", err)
	}
	if expired {
		s.log.Info().Str("session_id", session.ID.String()).Msg("Session expired")
	}
	return expired, nil
}

// loadReviewTasks mirrors sessionTasks but keeps the grading context
// (reference solution, rubric) that student payloads strip. Shared between
// the reviewer detail view and the grading orchestrator.
func loadReviewTasks(ctx context.Context, examRepo *repository.ExamRepository, examID uuid.UUID, assignments model.VariantAssignments) ([]model.ReviewTask, error) {
	taskTypes, err := examRepo.ListTaskTypes(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}
	variants, err := examRepo.ListVariantsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}

	tasks := make([]model.ReviewTask, 0, len(taskTypes))
	for _, tt := range taskTypes {
		task := model.ReviewTask{
			SessionTask: model.SessionTask{
				TaskTypeID:  tt.ID,
				Title:       tt.Title,
				Description: tt.Description,
				OrderIndex:  tt.OrderIndex,
				MaxScore:    tt.MaxScore,
			},
			Rubric: tt.Rubric,
		}
		if variantID, ok := assignments[tt.ID]; ok {
			for _, v := range variants[tt.ID] {
				if v.ID == variantID {
					task.VariantID = v.ID
					task.VariantLabel = v.VariantLabel
					task.Content = v.Content
					task.ReferenceSolution = v.ReferenceSolution
					break
				}
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// submissionMaxScore computes the score ceiling for an exam's submissions:
// the sum of task max scores, defaulting to 100 when no tasks are defined.
func submissionMaxScore(ctx context.Context, examRepo *repository.ExamRepository, examID uuid.UUID) (float64, error) {
	sum, err := examRepo.SumMaxScore(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("sum max score: %w", err)
	}
	if sum <= 0 {
		return 100, nil
	}
	return sum, nil
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	return types
}
