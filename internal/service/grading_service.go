package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/oracle"
	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/storage"
)

// GradingService runs one grading attempt end to end: claim, presign, call
// the oracle, interpret the verdict, persist the outcome. Jobs are delivered
// at least once, so every write it makes is status-guarded; a duplicate run
// costs at most one wasted oracle call.
type GradingService struct {
	submissionRepo *repository.SubmissionRepository
	imageRepo      *repository.SubmissionImageRepository
	sessionRepo    *repository.ExamSessionRepository
	examRepo       *repository.ExamRepository
	store          *storage.BlobStore
	oracle         oracle.Client
	gradingQueue   *queue.GradingQueue
	events         *EventPublisher
	cfg            *config.Config
	log            zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	submissionRepo *repository.SubmissionRepository,
	imageRepo *repository.SubmissionImageRepository,
	sessionRepo *repository.ExamSessionRepository,
	examRepo *repository.ExamRepository,
	store *storage.BlobStore,
	oracleClient oracle.Client,
	gradingQueue *queue.GradingQueue,
	events *EventPublisher,
	cfg *config.Config,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		submissionRepo: submissionRepo,
		imageRepo:      imageRepo,
		sessionRepo:    sessionRepo,
		examRepo:       examRepo,
		store:          store,
		oracle:         oracleClient,
		gradingQueue:   gradingQueue,
		events:         events,
		cfg:            cfg,
		log:            log.With().Str("component", "grading_service").Logger(),
	}
}

// Process executes one grading job. Once the claim lands the submission is
// PROCESSING and must never be left there: every failure path, panics
// included, flags it and requeues while retry budget remains. A stale job
// (submission already processed) is a silent no-op.
func (s *GradingService) Process(ctx context.Context, job *queue.GradingJob) (err error) {
	log := s.log.With().
		Str("submission_id", job.SubmissionID.String()).
		Str("job_id", job.ID).
		Str("reason", job.Reason).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grading panic: %v", r)
			s.failRun(ctx, job, err.Error())
			log.Error().Err(err).Msg("Grading run panicked")
		}
	}()

	started := time.Now().UTC()
	claimed, err := s.submissionRepo.BeginGrading(ctx, job.SubmissionID, started)
	if err != nil {
		return fmt.Errorf("claim submission: %w", err)
	}
	if !claimed {
		log.Info().Msg("Stale grading job, submission already processed")
		return nil
	}

	submission, err := s.submissionRepo.GetByID(ctx, job.SubmissionID)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("load submission: %v", err))
	}
	session, err := s.sessionRepo.GetByID(ctx, submission.SessionID)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("load session: %v", err))
	}
	exam, err := s.examRepo.GetByID(ctx, submission.ExamID)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("load exam: %v", err))
	}

	images, err := s.imageRepo.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("list images: %v", err))
	}
	if len(images) == 0 {
		// Reachable via manual regrade of an empty submission; the completion
		// sweep never enqueues these.
		return s.flagUnreadable(ctx, job, "no pages were uploaded")
	}

	urls := make([]string, len(images))
	for i, img := range images {
		url, perr := s.store.PresignGet(ctx, img.ObjectKey, s.cfg.PresignTTL)
		if perr != nil {
			return s.failRun(ctx, job, fmt.Sprintf("presign page %d: %v", img.OrderIndex, perr))
		}
		urls[i] = url
	}

	tasks, err := loadReviewTasks(ctx, s.examRepo, submission.ExamID, session.VariantAssignments)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("load rubric: %v", err))
	}

	req := &oracle.GradeRequest{
		SubmissionID: submission.ID,
		ExamTitle:    exam.Title,
		MaxScore:     submission.MaxScore,
		Tasks:        taskContexts(tasks),
		ImageURLs:    urls,
	}

	octx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()
	result, err := s.oracle.Grade(octx, req)
	if err != nil {
		return s.failRun(ctx, job, err.Error())
	}

	if result.Unreadable {
		reason := result.UnreadableReason
		if reason == "" {
			reason = "pages could not be read"
		}
		return s.flagUnreadable(ctx, job, reason)
	}

	completed := time.Now().UTC()
	ok, err := s.submissionRepo.SetPreliminary(ctx, submission.ID, result.TotalScore, result.Raw, result.Feedback, completed)
	if err != nil {
		return s.failRun(ctx, job, fmt.Sprintf("persist verdict: %v", err))
	}
	if !ok {
		// A reviewer decision (or a duplicate run) landed mid-grade; theirs wins.
		log.Info().Msg("Verdict discarded, submission left PROCESSING state mid-run")
		return nil
	}

	s.storeTranscriptions(ctx, submission.ID, images, result.PageTranscriptions, log)
	s.events.Publish(ctx, submission.ID, model.SubmissionStatusProcessing, model.SubmissionStatusPreliminary,
		fmt.Sprintf("graded %g/%g", result.TotalScore, submission.MaxScore))

	log.Info().
		Float64("score", result.TotalScore).
		Float64("max_score", submission.MaxScore).
		Int("pages", len(images)).
		Dur("duration", completed.Sub(started)).
		Msg("Submission graded")
	return nil
}

// failRun flags a failed attempt and schedules the delayed retry while budget
// remains. The 5-minute retry sweep is the backstop when the delayed enqueue
// itself fails. Writes use a detached context so a cancellation arriving
// mid-write cannot leave the submission stuck PROCESSING.
func (s *GradingService) failRun(ctx context.Context, job *queue.GradingJob, errMsg string) error {
	if ctx.Err() != nil {
		// Shutdown, not a grading failure. The unacked job stays on the
		// working list and is re-delivered at startup without burning a retry.
		return ctx.Err()
	}
	ctx = context.WithoutCancel(ctx)
	flagged, err := s.submissionRepo.FlagError(ctx, job.SubmissionID, errMsg, true, time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal: a reviewer decided while we were failing.
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Str("submission_id", job.SubmissionID.String()).Msg("Could not flag failed grading run")
		return fmt.Errorf("flag grading failure: %w", err)
	}
	s.events.Publish(ctx, job.SubmissionID, model.SubmissionStatusProcessing, model.SubmissionStatusFlagged, errMsg)

	if flagged.AIRetryCount < model.MaxGradingRetries {
		retry := queue.NewGradingJob(job.SubmissionID, queue.PriorityRetry, queue.ReasonOracleRetry)
		if qerr := s.gradingQueue.EnqueueDelayed(ctx, retry, s.cfg.RetryBackoff); qerr != nil {
			s.log.Warn().Err(qerr).Str("submission_id", job.SubmissionID.String()).Msg("Delayed retry enqueue failed, retry sweep will recover")
		}
	}
	return fmt.Errorf("grading failed: %s", errMsg)
}

// flagUnreadable parks a submission for human review without consuming a
// retry: another attempt against the same pages cannot succeed.
func (s *GradingService) flagUnreadable(ctx context.Context, job *queue.GradingJob, reason string) error {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.submissionRepo.FlagUnreadable(ctx, job.SubmissionID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("flag unreadable: %w", err)
	}
	if ok {
		s.events.Publish(ctx, job.SubmissionID, model.SubmissionStatusProcessing, model.SubmissionStatusFlagged, reason)
		s.log.Info().Str("submission_id", job.SubmissionID.String()).Str("reason", reason).Msg("Submission unreadable")
	}
	return nil
}

// storeTranscriptions attaches per-page transcriptions by position: verdict
// page i belongs to the i-th image in order_index order. Extra pages beyond
// the image count are dropped. Failures are logged, never fatal — the score
// is already durable.
func (s *GradingService) storeTranscriptions(ctx context.Context, submissionID uuid.UUID, images []model.SubmissionImage, pages []string, log zerolog.Logger) {
	if len(pages) > len(images) {
		log.Warn().Int("pages", len(pages)).Int("images", len(images)).Msg("Oracle returned more transcriptions than pages")
		pages = pages[:len(images)]
	}
	for i, text := range pages {
		if text == "" {
			continue
		}
		if err := s.imageRepo.SetTranscription(ctx, submissionID, images[i].OrderIndex, text); err != nil {
			log.Warn().Err(err).Int("order_index", images[i].OrderIndex).Msg("Transcription write failed")
		}
	}
}

// taskContexts converts review tasks into the oracle wire shape.
func taskContexts(tasks []model.ReviewTask) []oracle.TaskContext {
	out := make([]oracle.TaskContext, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, oracle.TaskContext{
			Task:              t.Title,
			Variant:           t.VariantLabel,
			Statement:         t.Content,
			ReferenceSolution: t.ReferenceSolution,
			Rubric:            t.Rubric,
			MaxScore:          t.MaxScore,
		})
	}
	return out
}
