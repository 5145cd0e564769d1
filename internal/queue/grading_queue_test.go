package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

func TestListForPriority(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     string
	}{
		{"regrade goes high", PriorityRegrade, config.WorkerKey.GradingHighQueue},
		{"completion goes normal", PriorityCompletion, config.WorkerKey.GradingNormalQueue},
		{"retry goes low", PriorityRetry, config.WorkerKey.GradingLowQueue},
		{"above regrade still high", Priority(99), config.WorkerKey.GradingHighQueue},
		{"unknown low value goes low", Priority(1), config.WorkerKey.GradingLowQueue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, listFor(tt.priority))
		})
	}
}

func TestNewGradingJob(t *testing.T) {
	subID := uuid.New()
	job := NewGradingJob(subID, PriorityCompletion, ReasonExamCompleted)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, subID, job.SubmissionID)
	assert.Equal(t, PriorityCompletion, job.Priority)
	assert.Equal(t, ReasonExamCompleted, job.Reason)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestGradingJobPayloadOmitsRaw(t *testing.T) {
	job := NewGradingJob(uuid.New(), PriorityRetry, ReasonAutoRetry)
	job.raw = "should not leak"

	payload, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "should not leak")

	var decoded GradingJob
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, job.SubmissionID, decoded.SubmissionID)
	assert.Equal(t, job.Priority, decoded.Priority)
	assert.Empty(t, decoded.raw)
}
