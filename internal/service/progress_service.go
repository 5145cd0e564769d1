package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
)

// progressCacheTTL keeps concurrent dashboards on one exam sharing a single
// aggregation. Short, because the whole point of the snapshot is freshness.
const progressCacheTTL = 10 * time.Second

// recentEventLimit caps the event feed attached to a snapshot.
const recentEventLimit = 20

// ProgressService aggregates grading progress for teacher dashboards; the
// same snapshot backs the REST endpoint and the WebSocket stream.
type ProgressService struct {
	submissionRepo *repository.SubmissionRepository
	progressRepo   *repository.ProgressRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(submissionRepo *repository.SubmissionRepository, progressRepo *repository.ProgressRepository, rdb *redis.Client, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		submissionRepo: submissionRepo,
		progressRepo:   progressRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "progress_service").Logger(),
	}
}

// Snapshot returns the grading progress of one exam, read through the Redis
// cache. Cache failures fall through to PostgreSQL.
func (s *ProgressService) Snapshot(ctx context.Context, examID uuid.UUID) (*model.GradingProgress, error) {
	key := config.CacheKey.ExamProgressKey(examID.String())

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var snap model.GradingProgress
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Progress cache read failed")
	}

	snap, err := s.build(ctx, examID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := s.rdb.Set(ctx, key, data, progressCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Progress cache write failed")
		}
	}

	return snap, nil
}

func (s *ProgressService) build(ctx context.Context, examID uuid.UUID) (*model.GradingProgress, error) {
	counts, err := s.submissionRepo.CountByStatusForExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.progressRepo.CountSessionsByStatus(ctx, examID)
	if err != nil {
		return nil, err
	}
	events, err := s.progressRepo.ListRecentEvents(ctx, examID, recentEventLimit)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return &model.GradingProgress{
		ExamID:       examID,
		Counts:       counts,
		Sessions:     sessions,
		Total:        total,
		RecentEvents: events,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
