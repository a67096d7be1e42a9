package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/config"
	"github.com/molekcbt/session-gateway/internal/session"
)

const (
	CheckpointBatchSize    = 50
	CheckpointBatchTimeout = 2 * time.Second
	CheckpointPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// CheckpointWorker consumes checkpoint_queue and writes attempt snapshots
// to Redis so a reload or gateway restart can resume in-progress exams.
// Snapshots are full-state and idempotent, so within one batch only the
// newest snapshot per attempt needs writing.
type CheckpointWorker struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCheckpointWorker creates a new CheckpointWorker.
func NewCheckpointWorker(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CheckpointWorker {
	return &CheckpointWorker{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "checkpoint_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *CheckpointWorker) Start(ctx context.Context) {
	w.log.Info().Msg("CheckpointWorker started")

	batch := make([]*session.CheckpointPayload, 0, CheckpointBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= CheckpointBatchSize || time.Since(lastFlush) >= CheckpointBatchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flush(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("CheckpointWorker stopped")
			return
		default:
			item, err := w.rdb.BLPop(ctx, CheckpointPollTimeout, config.WorkerKey.CheckpointQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var p session.CheckpointPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid checkpoint payload")
				continue
			}
			batch = append(batch, &p)
		}
	}
}

// flush writes the newest snapshot per attempt using one pipeline.
func (w *CheckpointWorker) flush(ctx context.Context, batch []*session.CheckpointPayload) {
	if len(batch) == 0 {
		return
	}

	// Later snapshots supersede earlier ones for the same attempt.
	latest := make(map[string]*session.CheckpointPayload, len(batch))
	for _, p := range batch {
		latest[config.CacheKey.AttemptTokenKey(p.ExamID, p.StudentID)] = p
	}

	pipe := w.rdb.Pipeline()
	for _, p := range latest {
		answersKey := config.CacheKey.AttemptAnswersKey(p.ExamID, p.StudentID)
		marksKey := config.CacheKey.AttemptMarksKey(p.ExamID, p.StudentID)
		tokenKey := config.CacheKey.AttemptTokenKey(p.ExamID, p.StudentID)

		if len(p.Answers) > 0 {
			flat := make([]interface{}, 0, len(p.Answers)*2)
			for qid, sel := range p.Answers {
				flat = append(flat, qid, sel)
			}
			pipe.HSet(ctx, answersKey, flat...)
		}
		pipe.Del(ctx, marksKey)
		if len(p.Marks) > 0 {
			members := make([]interface{}, 0, len(p.Marks))
			for _, qid := range p.Marks {
				members = append(members, qid)
			}
			pipe.SAdd(ctx, marksKey, members...)
		}
		pipe.Set(ctx, tokenKey, p.Token, w.ttl)
		pipe.Expire(ctx, answersKey, w.ttl)
		pipe.Expire(ctx, marksKey, w.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(latest)).Msg("Checkpoint flush failed")
		return
	}
	w.log.Debug().Int("count", len(latest)).Msg("Checkpoints flushed")
}

// drain processes everything left on the queue before shutdown.
func (w *CheckpointWorker) drain(ctx context.Context) {
	batch := make([]*session.CheckpointPayload, 0, CheckpointBatchSize)
	for {
		item, err := w.rdb.LPop(ctx, config.WorkerKey.CheckpointQueue).Result()
		if err != nil {
			break
		}
		var p session.CheckpointPayload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		batch = append(batch, &p)
		if len(batch) >= CheckpointBatchSize {
			w.flush(ctx, batch)
			batch = batch[:0]
		}
	}
	w.flush(ctx, batch)
}
