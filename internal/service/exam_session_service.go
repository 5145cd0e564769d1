package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/examtime"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/variant"
)

// Session lifecycle errors.
var (
	ErrExamNotAvailable  = errors.New("exam is not open for entry")
	ErrExamWindowClosed  = errors.New("exam entry window is closed")
	ErrAttemptsExhausted = errors.New("no attempts remaining for this exam")
	ErrSessionExpired    = errors.New("session has expired")
	ErrAlreadySubmitted  = errors.New("session was already submitted")
	ErrNotSessionOwner   = errors.New("session belongs to another student")
	ErrRateLimited       = errors.New("auto-save accepted too recently")
)

// autoSaveMinInterval is the per-session floor between accepted auto-saves.
const autoSaveMinInterval = 5 * time.Second

// autoSavePayload is the queue contract between the auto-save endpoint and
// the flush worker.
type autoSavePayload struct {
	SessionID uuid.UUID       `json:"session_id"`
	Data      json.RawMessage `json:"data"`
	SavedAt   time.Time       `json:"saved_at"`
}

// ExamSessionService drives the session state machine: enter, state reads,
// auto-save, submit, and expiry. Deadline decisions all go through examtime
// so every observer of a session reaches the same verdict.
type ExamSessionService struct {
	sessionRepo    *repository.ExamSessionRepository
	examRepo       *repository.ExamRepository
	submissionRepo *repository.SubmissionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	sessionRepo *repository.ExamSessionRepository,
	examRepo *repository.ExamRepository,
	submissionRepo *repository.SubmissionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		sessionRepo:    sessionRepo,
		examRepo:       examRepo,
		submissionRepo: submissionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "session_service").Logger(),
	}
}

// Enter opens (or returns) the student's ACTIVE session for an exam.
//
// Entering is idempotent: while a session is ACTIVE and inside its deadline,
// re-entering returns it unchanged. An overdue ACTIVE session is expired on
// the spot and counts as a used attempt before a new one is considered.
func (s *ExamSessionService) Enter(ctx context.Context, examID uuid.UUID, studentID int, ip, userAgent string) (*model.ExamSession, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !exam.Enterable() {
		return nil, ErrExamNotAvailable
	}
	if !examtime.EnterWindowOpen(now, exam) {
		return nil, ErrExamWindowClosed
	}

	existing, err := s.sessionRepo.FindActive(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	if existing != nil {
		if !examtime.PastDeadline(now, existing, exam) {
			return existing, nil
		}
		// Self-heal: the previous attempt ran out the clock.
		if _, err := s.Expire(ctx, existing.ID, examID, studentID, examtime.HardDeadline(existing, exam)); err != nil {
			return nil, fmt.Errorf("expire overdue session: %w", err)
		}
	}

	attempts, err := s.sessionRepo.CountAttempts(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if exam.MaxAttempts > 0 && attempts >= exam.MaxAttempts {
		return nil, ErrAttemptsExhausted
	}

	seed, err := variant.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("draw variant seed: %w", err)
	}

	tasks, err := s.examRepo.ListTaskTypes(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}
	variants, err := s.examRepo.ListVariantsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}

	session := &model.ExamSession{
		ExamID:             examID,
		StudentID:          studentID,
		AttemptNumber:      attempts + 1,
		Status:             model.SessionStatusActive,
		VariantSeed:        seed,
		VariantAssignments: variant.Assign(seed, tasks, variants),
		StartedAt:          now,
		ExpiresAt:          examtime.SessionExpiry(now, exam),
		IPAddress:          ip,
		UserAgent:          userAgent,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the uniqueness race: a concurrent enter created the row.
			winner, ferr := s.sessionRepo.FindActive(ctx, examID, studentID)
			if ferr != nil {
				return nil, fmt.Errorf("fetch winning session: %w", ferr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("attempt", session.AttemptNumber).
		Msg("Session started")
	return session, nil
}

// GetState returns the working snapshot for one session: remaining time and
// the task variants assigned to it. Reading an overdue ACTIVE session expires
// it first, so clients always observe a consistent state machine.
func (s *ExamSessionService) GetState(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.SessionState, error) {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deadline := examtime.HardDeadline(session, exam)

	if session.Status == model.SessionStatusActive && examtime.PastDeadline(now, session, exam) {
		if _, err := s.Expire(ctx, session.ID, session.ExamID, session.StudentID, deadline); err != nil {
			return nil, fmt.Errorf("expire overdue session: %w", err)
		}
		if session, err = s.sessionRepo.GetByID(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	tasks, err := s.sessionTasks(ctx, exam.ID, session.VariantAssignments)
	if err != nil {
		return nil, err
	}

	var remaining int64
	if session.Status == model.SessionStatusActive {
		remaining = examtime.RemainingSeconds(now, session, exam)
	}

	return &model.SessionState{
		Session:          session,
		HardDeadline:     deadline,
		RemainingSeconds: remaining,
		Tasks:            tasks,
	}, nil
}

// AutoSave accepts a draft-work snapshot and hands it to the flush worker.
//
// At most one save per session per 5 seconds is accepted; the limiter lives
// in Redis and fails open, because losing a rate check must never lose
// student work. Persistence is asynchronous — if the queue is unreachable
// the snapshot is written synchronously instead.
func (s *ExamSessionService) AutoSave(ctx context.Context, sessionID uuid.UUID, studentID int, data json.RawMessage) (time.Time, error) {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now().UTC()
	switch {
	case session.Status == model.SessionStatusSubmitted:
		return time.Time{}, ErrAlreadySubmitted
	case session.Status == model.SessionStatusExpired:
		return time.Time{}, ErrSessionExpired
	case examtime.PastDeadline(now, session, exam):
		if _, err := s.Expire(ctx, session.ID, session.ExamID, session.StudentID, examtime.HardDeadline(session, exam)); err != nil {
			return time.Time{}, fmt.Errorf("expire overdue session: %w", err)
		}
		return time.Time{}, ErrSessionExpired
	}

	if err := s.checkAutoSaveRate(ctx, sessionID); err != nil {
		return time.Time{}, err
	}

	payload, err := json.Marshal(autoSavePayload{SessionID: sessionID, Data: data, SavedAt: now})
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal auto-save: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.AutoSaveQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Auto-save queue unavailable, writing synchronously")
		if err := s.sessionRepo.UpdateAutoSave(ctx, sessionID, data, now); err != nil {
			return time.Time{}, fmt.Errorf("auto-save fallback write: %w", err)
		}
	}

	return now, nil
}

// checkAutoSaveRate enforces the per-session floor. SET NX EX is atomic, so
// the window key can never be left without a TTL. Limiter outages allow the
// write.
func (s *ExamSessionService) checkAutoSaveRate(ctx context.Context, sessionID uuid.UUID) error {
	key := config.CacheKey.AutoSaveRateKey(sessionID.String())
	ok, err := s.rdb.SetNX(ctx, key, 1, autoSaveMinInterval).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Auto-save limiter unavailable, allowing write")
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// Submit finalizes a session. Explicit submits are honored while ACTIVE and
// for SubmitGrace past the hard deadline — even when the expiry sweep beat
// the student to the transition, so a submit racing the sweeper still lands.
// A duplicate submit (client retry after a lost response) returns the first
// outcome unchanged: SUBMITTED is terminal and is never restamped.
// The submission row is created here if uploads never happened.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, *model.Submission, error) {
	session, exam, err := loadOwnedSession(ctx, s.sessionRepo, s.examRepo, sessionID, studentID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if !examtime.WithinSubmitGrace(now, session, exam) {
		switch session.Status {
		case model.SessionStatusSubmitted:
			return nil, nil, ErrAlreadySubmitted
		case model.SessionStatusActive:
			if _, err := s.Expire(ctx, session.ID, session.ExamID, session.StudentID, examtime.HardDeadline(session, exam)); err != nil {
				return nil, nil, fmt.Errorf("expire overdue session: %w", err)
			}
		}
		return nil, nil, ErrSessionExpired
	}
	if session.Status == model.SessionStatusSubmitted {
		return s.submittedState(ctx, session)
	}

	ok, err := s.sessionRepo.MarkSubmitted(ctx, sessionID, now, session.Status)
	if err != nil {
		return nil, nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !ok {
		// The status moved under us (typically the expiry sweep). Still
		// inside the grace window, so take it from the status we see now.
		current, err := s.sessionRepo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		if current.Status == model.SessionStatusSubmitted {
			// A concurrent duplicate won; hand back what it wrote.
			return s.submittedState(ctx, current)
		}
		if ok, err = s.sessionRepo.MarkSubmitted(ctx, sessionID, now, current.Status); err != nil {
			return nil, nil, fmt.Errorf("mark submitted: %w", err)
		}
		if !ok {
			return nil, nil, ErrSessionExpired
		}
	}
	session.Status = model.SessionStatusSubmitted
	session.SubmittedAt = &now

	maxScore, err := submissionMaxScore(ctx, s.examRepo, session.ExamID)
	if err != nil {
		return nil, nil, err
	}
	submission, err := s.submissionRepo.EnsureForSession(ctx, session, maxScore)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure submission: %w", err)
	}
	if err := s.submissionRepo.MarkSubmitted(ctx, submission.ID, now); err != nil {
		return nil, nil, fmt.Errorf("stamp submission: %w", err)
	}
	submission.SubmittedAt = &now

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("submission_id", submission.ID.String()).
		Bool("in_grace", examtime.PastDeadline(now, session, exam)).
		Msg("Session submitted")
	return session, submission, nil
}

// submittedState returns an already-submitted session with its submission,
// creating the row only if the original submit crashed between its writes.
func (s *ExamSessionService) submittedState(ctx context.Context, session *model.ExamSession) (*model.ExamSession, *model.Submission, error) {
	maxScore, err := submissionMaxScore(ctx, s.examRepo, session.ExamID)
	if err != nil {
		return nil, nil, err
	}
	submission, err := s.submissionRepo.EnsureForSession(ctx, session, maxScore)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure submission: %w", err)
	}
	return session, submission, nil
}

// Expire performs the idempotent ACTIVE → EXPIRED transition and guarantees
// the session's (possibly empty) submission row exists. Any observer of an
// overdue session calls this: request handlers, the expiry sweep, enter.
// Returns false when another observer already expired it.
func (s *ExamSessionService) Expire(ctx context.Context, sessionID, examID uuid.UUID, studentID int, deadline time.Time) (bool, error) {
	expired, err := s.sessionRepo.Expire(ctx, sessionID, deadline)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}

	// Ensure the submission row regardless of who won the CAS: the winner may
	// have crashed between the two writes.
	maxScore, err := submissionMaxScore(ctx, s.examRepo, examID)
	if err != nil {
		return expired, err
	}
	stub := &model.ExamSession{ID: sessionID, ExamID: examID, StudentID: studentID}
	if _, err := s.submissionRepo.EnsureForSession(ctx, stub, maxScore); err != nil {
		return expired, fmt.Errorf("ensure submission: %w", err)
	}

	if expired {
		s.log.Info().
			Str("session_id", sessionID.String()).
			Time("deadline", deadline).
			Msg("Session expired")
	}
	return expired, nil
}

// MySessions lists the calling student's attempts, newest first.
func (s *ExamSessionService) MySessions(ctx context.Context, studentID int) ([]model.ExamSession, error) {
	sessions, err := s.sessionRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	return sessions, nil
}

// loadOwnedSession loads a session plus its exam and enforces ownership.
// Shared by every student-facing entry point that takes a session ID.
func loadOwnedSession(ctx context.Context, sessionRepo *repository.ExamSessionRepository, examRepo *repository.ExamRepository, sessionID uuid.UUID, studentID int) (*model.ExamSession, *model.Exam, error) {
	session, err := sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.StudentID != studentID {
		return nil, nil, ErrNotSessionOwner
	}
	exam, err := examRepo.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return session, exam, nil
}

// sessionTasks joins the exam's task catalog with one session's assignments.
// Task types that had no variants appear without variant content.
func (s *ExamSessionService) sessionTasks(ctx context.Context, examID uuid.UUID, assignments model.VariantAssignments) ([]model.SessionTask, error) {
	taskTypes, err := s.examRepo.ListTaskTypes(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}
	variants, err := s.examRepo.ListVariantsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}

	tasks := make([]model.SessionTask, 0, len(taskTypes))
	for _, tt := range taskTypes {
		task := model.SessionTask{
			TaskTypeID:  tt.ID,
			Title:       tt.Title,
			Description: tt.Description,
			OrderIndex:  tt.OrderIndex,
			MaxScore:    tt.MaxScore,
		}
		if variantID, ok := assignments[tt.ID]; ok {
			for _, v := range variants[tt.ID] {
				if v.ID == variantID {
					task.VariantID = v.ID
					task.VariantLabel = v.VariantLabel
					task.Content = v.Content
					break
				}
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
