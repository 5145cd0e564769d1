package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AutoSaveRateKey returns the rate-limit counter key for a session's auto-saves.
func (r *CacheKeyStruct) AutoSaveRateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:autosave_rate", sessionID)
}

// ExamDetailKey returns the cache key for a student-facing exam payload.
func (r *CacheKeyStruct) ExamDetailKey(examID string) string {
	return fmt.Sprintf("exam:%s:detail", examID)
}

// ExamProgressKey returns the cache key for an exam's grading progress snapshot.
func (r *CacheKeyStruct) ExamProgressKey(examID string) string {
	return fmt.Sprintf("exam:%s:grading_progress", examID)
}

var CacheKey = NewCacheKeyStruct()
