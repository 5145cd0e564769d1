package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
	"github.com/inkgrade/inkgrade-backend/internal/response"
)

// detailCacheTTL bounds staleness of the cached exam detail payload.
// Exam content changes rarely once published; five minutes is plenty.
const detailCacheTTL = 5 * time.Minute

// ExamService serves the read-side exam catalog. Exams are authored by an
// external system; this service only reads them and caches the hot detail
// payload in Redis.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// ListVisible retrieves the exams students may see, newest first.
func (s *ExamService) ListVisible(ctx context.Context, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	exams, total, err := s.examRepo.ListVisible(ctx, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if exams == nil {
		exams = []model.Exam{}
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return exams, pagination, nil
}

// GetDetail returns the exam with its task catalog, read through the Redis
// cache. Cache failures fall through to PostgreSQL — the cache is an
// optimization, never a dependency.
func (s *ExamService) GetDetail(ctx context.Context, examID uuid.UUID) (*model.ExamDetail, error) {
	key := config.CacheKey.ExamDetailKey(examID.String())

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var detail model.ExamDetail
		if err := json.Unmarshal(data, &detail); err == nil {
			return &detail, nil
		}
		// Corrupt cache entry: drop it and rebuild from the database.
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam detail cache read failed")
	}

	detail, err := s.buildDetail(ctx, examID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(detail); err == nil {
		if err := s.rdb.Set(ctx, key, data, detailCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam detail cache write failed")
		}
	}

	return detail, nil
}

// InvalidateDetail drops the cached detail payload. The completion sweep
// calls this after flipping an exam to COMPLETED.
func (s *ExamService) InvalidateDetail(ctx context.Context, examID uuid.UUID) {
	if err := s.rdb.Del(ctx, config.CacheKey.ExamDetailKey(examID.String())).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam detail cache invalidation failed")
	}
}

func (s *ExamService) buildDetail(ctx context.Context, examID uuid.UUID) (*model.ExamDetail, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	taskTypes, err := s.examRepo.ListTaskTypes(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}

	var totalMax float64
	for _, t := range taskTypes {
		totalMax += t.MaxScore
	}

	return &model.ExamDetail{
		Exam:          exam,
		TaskTypes:     taskTypes,
		TotalMaxScore: totalMax,
	}, nil
}
