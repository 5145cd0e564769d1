package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
)

const (
	SaveBatchSize    = 50
	SaveBatchTimeout = 2 * time.Second
	SavePollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AutosaveWorker drains the auto-save queue and flushes draft-work snapshots
// to exam_sessions in batches. The ACTIVE guard on every write keeps a late
// flush from touching a session that already submitted or expired.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "autosave_worker").Logger(),
	}
}

// savePayload mirrors the JSON the auto-save endpoint enqueues.
type savePayload struct {
	SessionID uuid.UUID       `json:"session_id"`
	Data      json.RawMessage `json:"data"`
	SavedAt   time.Time       `json:"saved_at"`
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AutosaveWorker started")

	batch := make([]*savePayload, 0, SaveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= SaveBatchSize || time.Since(lastFlush) >= SaveBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, SavePollTimeout, config.WorkerKey.AutoSaveQueue).Result()
			if err != nil {
				if err == redis.Nil {
					continue // Queue empty, loop back to check the flush timer.
				}
				if ctx.Err() != nil {
					return
				}
				w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
				time.Sleep(3 * time.Second)
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p savePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				// Malformed JSON can never succeed. Log and discard.
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed auto-save")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// flushSafe attempts the bulk update, then row-by-row recovery, then requeue.
func (w *AutosaveWorker) flushSafe(ctx context.Context, batch []*savePayload) {
	if len(batch) == 0 {
		return
	}

	// The queue is FIFO, so for sessions saved twice in one batch the later
	// entry is the newer snapshot; keep only that one.
	latest := make(map[uuid.UUID]*savePayload, len(batch))
	for _, p := range batch {
		latest[p.SessionID] = p
	}
	deduped := make([]*savePayload, 0, len(latest))
	for _, p := range latest {
		deduped = append(deduped, p)
	}

	if err := w.bulkUpdate(ctx, deduped); err != nil {
		w.log.Warn().Err(err).Int("count", len(deduped)).Msg("Bulk auto-save flush failed, attempting row-by-row recovery")
		w.fallbackUpdate(ctx, deduped)
	}
}

// ----------------------------------------------------------------
// BULK PostgreSQL UPDATE using UNNEST + alias
// ----------------------------------------------------------------

func (w *AutosaveWorker) bulkUpdate(ctx context.Context, batch []*savePayload) error {
	n := len(batch)

	ids := make([]uuid.UUID, 0, n)
	datas := make([]string, 0, n)
	savedAts := make([]time.Time, 0, n)

	for _, p := range batch {
		ids = append(ids, p.SessionID)
		datas = append(datas, string(p.Data))
		savedAts = append(savedAts, p.SavedAt)
	}

	query := `
		UPDATE exam_sessions AS s
		SET auto_save_data = t.data::jsonb,
		    last_auto_save_at = t.saved_at,
		    updated_at = NOW()
		FROM (
			SELECT
				u.id,
				u.data,
				u.saved_at
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::timestamptz[]
			) AS u (id, data, saved_at)
		) AS t
		WHERE s.id = t.id
		  AND s.status = $4
	`

	_, err := w.pool.Exec(ctx, query, ids, datas, savedAts, model.SessionStatusActive)
	return err
}

// ----------------------------------------------------------------
// FALLBACK single update
// ----------------------------------------------------------------

func (w *AutosaveWorker) fallbackUpdate(ctx context.Context, batch []*savePayload) {
	requeueList := make([]*savePayload, 0)

	for _, p := range batch {
		_, err := w.pool.Exec(ctx,
			`UPDATE exam_sessions
			 SET auto_save_data = $1, last_auto_save_at = $2, updated_at = NOW()
			 WHERE id = $3 AND status = $4`,
			p.Data, p.SavedAt, p.SessionID, model.SessionStatusActive,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", p.SessionID.String()).Msg("Auto-save write failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AutosaveWorker) requeue(ctx context.Context, items []*savePayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.AutoSaveQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue auto-saves. Student drafts lost.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed auto-saves")
	// Sleep a bit to avoid thrashing if the DB is down hard.
	time.Sleep(2 * time.Second)
}
