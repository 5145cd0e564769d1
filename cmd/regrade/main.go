package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/database"
	"github.com/inkgrade/inkgrade-backend/internal/logger"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/service"
)

// regrade requeues one submission for AI grading from the command line.
// Useful when a submission is stuck and nobody is near the dashboard.
func main() {
	var idArg string
	flag.StringVar(&idArg, "id", "", "Submission ID to regrade")
	flag.Parse()

	if idArg == "" {
		fmt.Println("Usage: regrade -id <submission-uuid>")
		os.Exit(1)
	}
	submissionID, err := uuid.Parse(idArg)
	if err != nil {
		fmt.Printf("Error: invalid submission ID %q\n", idArg)
		os.Exit(1)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

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

	submissionRepo := repository.NewSubmissionRepository(pool)
	events := service.NewEventPublisher(rdb, log)

	hostname, _ := os.Hostname()
	gradingQueue := queue.NewGradingQueue(rdb, hostname, log)

	// ─── Logic ─────────────────────────────────────────────────────────
	// Regrading is valid from any status, matching the review API.
	submission, err := submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Submission not found")
	}

	fromStatus := submission.Status
	if _, err := submissionRepo.ClaimForRegrade(ctx, submissionID); err != nil {
		log.Fatal().Err(err).Msg("Failed to claim submission for regrade")
	}
	events.Publish(ctx, submissionID, fromStatus, model.SubmissionStatusProcessing, "regrade requested from cli")

	job := queue.NewGradingJob(submissionID, queue.PriorityRegrade, queue.ReasonManualRegrade)
	if err := gradingQueue.Enqueue(ctx, job); err != nil {
		log.Fatal().Err(err).Msg("Failed to enqueue grading job")
	}

	fmt.Printf("Success! Submission %s requeued for grading (was %s).\n", submissionID, fromStatus)
}
