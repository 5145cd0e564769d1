package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/database"
	"github.com/inkgrade/inkgrade-backend/internal/handler"
	"github.com/inkgrade/inkgrade-backend/internal/logger"
	"github.com/inkgrade/inkgrade-backend/internal/oracle"
	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/router"
	"github.com/inkgrade/inkgrade-backend/internal/scheduler"
	"github.com/inkgrade/inkgrade-backend/internal/service"
	"github.com/inkgrade/inkgrade-backend/internal/storage"
	"github.com/inkgrade/inkgrade-backend/internal/validator"
	"github.com/inkgrade/inkgrade-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting InkGrade Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to Blob Store ─────────────────────────────────────────
	store, err := storage.NewBlobStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	// ─── Grading Queue ─────────────────────────────────────────────────
	// The instance ID keys this process's working list; pod/host names are
	// stable across restarts, which is what lets RecoverPending find jobs a
	// previous run left behind.
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "grader-unknown"
	}
	gradingQueue := queue.NewGradingQueue(rdb, hostname, log)
	if n, err := gradingQueue.RecoverPending(ctx); err != nil {
		log.Warn().Err(err).Msg("Working list recovery failed")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("Recovered in-flight grading jobs from previous run")
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	teacherRepo := repository.NewTeacherRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	imageRepo := repository.NewSubmissionImageRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, studentRepo, teacherRepo)
	events := service.NewEventPublisher(rdb, log)
	examService := service.NewExamService(examRepo, rdb, log)
	sessionService := service.NewExamSessionService(sessionRepo, examRepo, submissionRepo, rdb, log)
	submissionService := service.NewSubmissionService(
		submissionRepo, imageRepo, sessionRepo, examRepo, progressRepo,
		store, gradingQueue, events, cfg, log,
	)
	gradingService := service.NewGradingService(
		submissionRepo, imageRepo, sessionRepo, examRepo,
		store, oracle.NewChatClient(cfg, log), gradingQueue, events, cfg, log,
	)
	progressService := service.NewProgressService(submissionRepo, progressRepo, rdb, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(authService),
		Exam:     handler.NewExamHandler(examService),
		Session:  handler.NewSessionHandler(sessionService, submissionService),
		Review:   handler.NewReviewHandler(submissionService),
		Progress: handler.NewProgressHandler(progressService, examService, log, cfg.AllowedOrigins),
		System:   handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	gradingWorker := worker.NewGradingWorker(gradingQueue, gradingService, cfg.GradingWorkers, log)
	autosaveWorker := worker.NewAutosaveWorker(pool, rdb, log)
	eventWorker := worker.NewEventWorker(pool, rdb, log)
	sweeper := scheduler.New(
		examRepo, submissionRepo, sessionRepo,
		sessionService, examService, events, gradingQueue, cfg, log,
	)

	go gradingWorker.Start(workerCtx)
	go autosaveWorker.Start(workerCtx)
	go eventWorker.Start(workerCtx)
	go sweeper.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for batch flushes to drain.
	// In-flight grading jobs stay on this instance's working list and are
	// recovered at the next startup.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
