package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/queue"
	"github.com/inkgrade/inkgrade-backend/internal/service"
)

// GradingPollTimeout is how long an idle worker blocks on the high-priority
// list before looping. It also bounds the delayed-job promotion cadence.
const GradingPollTimeout = 2 * time.Second

// GradingWorker runs the oracle grading pool: N goroutines share the priority
// queue, each promoting due delayed jobs before every blocking pop. A job
// stays on the instance's working list until acked, so a crash mid-grade is
// re-delivered at the next startup.
type GradingWorker struct {
	queue   *queue.GradingQueue
	grader  *service.GradingService
	workers int
	log     zerolog.Logger
}

// NewGradingWorker creates a pool of the given size.
func NewGradingWorker(q *queue.GradingQueue, grader *service.GradingService, workers int, log zerolog.Logger) *GradingWorker {
	if workers < 1 {
		workers = 1
	}
	return &GradingWorker{
		queue:   q,
		grader:  grader,
		workers: workers,
		log:     log.With().Str("component", "grading_worker").Logger(),
	}
}

// Start runs the pool until ctx is canceled. Call in a goroutine.
func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Int("workers", w.workers).Msg("GradingWorker pool started")

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.runLoop(ctx, id)
		}(i)
	}
	wg.Wait()

	w.log.Info().Msg("GradingWorker pool stopped")
}

func (w *GradingWorker) runLoop(ctx context.Context, id int) {
	log := w.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if n, err := w.queue.PromoteDue(ctx, time.Now()); err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Delayed job promotion failed")
			}
		} else if n > 0 {
			log.Info().Int("count", n).Msg("Promoted delayed jobs")
		}

		job, err := w.queue.Dequeue(ctx, GradingPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Dequeue error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if job == nil {
			continue // Idle timeout, loop back for promotion and shutdown checks.
		}

		if err := w.grader.Process(ctx, job); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-job: leave it on the working list so startup
				// recovery re-delivers it.
				return
			}
			log.Warn().Err(err).Str("submission_id", job.SubmissionID.String()).Msg("Grading job failed")
		}

		if err := w.queue.Ack(context.WithoutCancel(ctx), job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Ack failed, job will re-deliver at next startup")
		}
	}
}
