package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// submissionEventPayload is the queue contract between publishers and the
// event worker, which batch-inserts these into submission_events.
type submissionEventPayload struct {
	SubmissionID uuid.UUID              `json:"submission_id"`
	FromStatus   model.SubmissionStatus `json:"from_status"`
	ToStatus     model.SubmissionStatus `json:"to_status"`
	Detail       string                 `json:"detail,omitempty"`
	At           time.Time              `json:"at"`
}

// EventPublisher emits submission status transitions onto the event queue.
// Publishing is fire-and-forget: the audit trail is never worth failing a
// state transition over, so errors are logged and swallowed.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish queues one transition record.
func (p *EventPublisher) Publish(ctx context.Context, submissionID uuid.UUID, from, to model.SubmissionStatus, detail string) {
	payload, err := json.Marshal(submissionEventPayload{
		SubmissionID: submissionID,
		FromStatus:   from,
		ToStatus:     to,
		Detail:       detail,
		At:           time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Event payload marshal failed")
		return
	}
	if err := p.rdb.RPush(ctx, config.WorkerKey.SubmissionEventsQueue, payload).Err(); err != nil {
		p.log.Warn().Err(err).
			Str("submission_id", submissionID.String()).
			Str("to_status", string(to)).
			Msg("Event publish failed, transition not audited")
	}
}
