// Package scheduler runs the periodic sweeps that keep exams, sessions and
// submissions converging without request traffic: completion, expiry, retry.
// Every sweep is idempotent and claim-based, so overlapping runs across
// instances are safe.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/examtime"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/service"
)

// Scheduler owns the three sweep loops.
type Scheduler struct {
	examRepo       *repository.ExamRepository
	submissionRepo *repository.SubmissionRepository
	sessionRepo    *repository.ExamSessionRepository
	sessionService *service.ExamSessionService
	examService    *service.ExamService
	events         *service.EventPublisher
	gradingQueue   *queue.GradingQueue
	interval       time.Duration
	lookback       time.Duration
	log            zerolog.Logger
}

// New creates a Scheduler.
func New(
	examRepo *repository.ExamRepository,
	submissionRepo *repository.SubmissionRepository,
	sessionRepo *repository.ExamSessionRepository,
	sessionService *service.ExamSessionService,
	examService *service.ExamService,
	events *service.EventPublisher,
	gradingQueue *queue.GradingQueue,
	cfg *config.Config,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		examRepo:       examRepo,
		submissionRepo: submissionRepo,
		sessionRepo:    sessionRepo,
		sessionService: sessionService,
		examService:    examService,
		events:         events,
		gradingQueue:   gradingQueue,
		interval:       cfg.SweepInterval,
		lookback:       cfg.CompletionLookback,
		log:            log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs all sweeps until ctx is canceled. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")

	sweeps := []func(context.Context){
		s.sweepCompletions,
		s.sweepExpiries,
		s.sweepRetries,
	}

	var wg sync.WaitGroup
	for _, sweep := range sweeps {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			s.runLoop(ctx, fn)
		}(sweep)
	}
	wg.Wait()

	s.log.Info().Msg("Scheduler stopped")
}

// runLoop sweeps once immediately, then on every tick. The immediate run
// means a restarted instance never waits a full interval to recover work
// that accumulated while it was down.
func (s *Scheduler) runLoop(ctx context.Context, sweep func(context.Context)) {
	sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// sweepCompletions finds exams that ended inside the lookback window, claims
// their non-empty UPLOADED submissions for grading and flips the exam to
// COMPLETED. The claim is the atomic conditional update; enqueueing happens
// after, so an enqueue failure flags the submission rather than losing it.
func (s *Scheduler) sweepCompletions(ctx context.Context) {
	now := time.Now().UTC()
	exams, err := s.examRepo.FindRecentlyEnded(ctx, now, s.lookback)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Completion sweep query failed")
		}
		return
	}

	for _, exam := range exams {
		ids, err := s.submissionRepo.ClaimUploadedByExam(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("Submission claim failed")
			continue
		}

		enqueued := 0
		for _, id := range ids {
			s.events.Publish(ctx, id, model.SubmissionStatusUploaded, model.SubmissionStatusProcessing, "exam completed")

			job := queue.NewGradingJob(id, queue.PriorityCompletion, queue.ReasonExamCompleted)
			if err := s.gradingQueue.Enqueue(ctx, job); err != nil {
				s.log.Error().Err(err).Str("submission_id", id.String()).Msg("Completion enqueue failed")
				if ferr := s.submissionRepo.FlagEnqueueFailure(ctx, id, err.Error()); ferr != nil {
					s.log.Error().Err(ferr).Str("submission_id", id.String()).Msg("Enqueue-failure flag failed")
				}
				s.events.Publish(ctx, id, model.SubmissionStatusProcessing, model.SubmissionStatusFlagged, "grading enqueue failed")
				continue
			}
			enqueued++
		}

		completed, err := s.examRepo.MarkCompleted(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("Exam completion flip failed")
			continue
		}
		if completed {
			s.examService.InvalidateDetail(ctx, exam.ID)
			s.log.Info().
				Str("exam_id", exam.ID.String()).
				Str("title", exam.Title).
				Int("claimed", len(ids)).
				Int("enqueued", enqueued).
				Msg("Exam completed")
		}
	}
}

// sweepExpiries self-heals sessions whose owners never came back: every
// ACTIVE session past min(expires_at, exam end) is expired and its empty
// submission row ensured.
func (s *Scheduler) sweepExpiries(ctx context.Context) {
	rows, err := s.sessionRepo.ListActiveWithExamEnd(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Expiry sweep query failed")
		}
		return
	}

	now := time.Now().UTC()
	expired := 0
	for _, row := range rows {
		deadline := examtime.MinDeadline(row.ExpiresAt, row.ExamEnd)
		if now.Before(deadline) {
			continue
		}
		won, err := s.sessionService.Expire(ctx, row.SessionID, row.ExamID, row.StudentID, deadline)
		if err != nil {
			s.log.Error().Err(err).Str("session_id", row.SessionID.String()).Msg("Session expiry failed")
			continue
		}
		if won {
			expired++
		}
	}

	if expired > 0 {
		s.log.Info().Int("count", expired).Msg("Expired overdue sessions")
	}
}

// sweepRetries requeues flagged submissions that still hold retry budget.
// The claim resets them to PROCESSING and clears the error; unreadable
// submissions never match because they carry no ai_error.
func (s *Scheduler) sweepRetries(ctx context.Context) {
	ids, err := s.submissionRepo.ClaimRetryable(ctx, model.MaxGradingRetries)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Retry sweep claim failed")
		}
		return
	}
	if len(ids) == 0 {
		return
	}

	enqueued := 0
	for _, id := range ids {
		s.events.Publish(ctx, id, model.SubmissionStatusFlagged, model.SubmissionStatusProcessing, "automatic retry")

		job := queue.NewGradingJob(id, queue.PriorityRetry, queue.ReasonAutoRetry)
		if err := s.gradingQueue.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Str("submission_id", id.String()).Msg("Retry enqueue failed")
			if ferr := s.submissionRepo.FlagEnqueueFailure(ctx, id, err.Error()); ferr != nil {
				s.log.Error().Err(ferr).Str("submission_id", id.String()).Msg("Enqueue-failure flag failed")
			}
			s.events.Publish(ctx, id, model.SubmissionStatusProcessing, model.SubmissionStatusFlagged, "grading enqueue failed")
			continue
		}
		enqueued++
	}

	s.log.Info().Int("claimed", len(ids)).Int("enqueued", enqueued).Msg("Requeued flagged submissions")
}
