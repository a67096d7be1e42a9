package session

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/config"
)

// CheckpointPayload is a full snapshot of an attempt's mutable state,
// queued for Redis persistence so a reload or gateway restart can resume.
type CheckpointPayload struct {
	ExamID    string            `json:"exam_id"`
	StudentID int               `json:"student_id"`
	Token     string            `json:"session_token"`
	Answers   map[string]string `json:"answers"`
	Marks     []string          `json:"marks"`
}

// Checkpointer is the resume-checkpoint boundary a Registry depends on.
// The Redis implementation below is the production one; tests substitute
// an in-memory fake.
type Checkpointer interface {
	// Enqueue hands a snapshot to the persistence pipeline. Best-effort:
	// failures are logged, never propagated into the answer path.
	Enqueue(ctx context.Context, p *CheckpointPayload)

	// Load restores the latest checkpoint for an attempt, if any.
	Load(ctx context.Context, examID string, studentID int) (answers map[string]string, marks []string, token string, err error)

	// Clear removes an attempt's checkpoint after finalization.
	Clear(ctx context.Context, examID string, studentID int)
}

// RedisCheckpointer queues snapshots onto the checkpoint worker's Redis
// list and reads checkpoints back directly.
type RedisCheckpointer struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisCheckpointer creates a RedisCheckpointer.
func NewRedisCheckpointer(rdb *redis.Client, log zerolog.Logger) *RedisCheckpointer {
	return &RedisCheckpointer{
		rdb: rdb,
		log: log.With().Str("component", "checkpointer").Logger(),
	}
}

// Enqueue implements Checkpointer.
func (c *RedisCheckpointer) Enqueue(ctx context.Context, p *CheckpointPayload) {
	raw, err := json.Marshal(p)
	if err != nil {
		c.log.Error().Err(err).Msg("Marshal checkpoint")
		return
	}
	if err := c.rdb.RPush(ctx, config.WorkerKey.CheckpointQueue, raw).Err(); err != nil {
		c.log.Warn().Err(err).
			Str("exam_id", p.ExamID).
			Int("student_id", p.StudentID).
			Msg("Checkpoint enqueue failed")
	}
}

// Load implements Checkpointer.
func (c *RedisCheckpointer) Load(ctx context.Context, examID string, studentID int) (map[string]string, []string, string, error) {
	answers, err := c.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(examID, studentID)).Result()
	if err != nil {
		return nil, nil, "", err
	}
	marks, err := c.rdb.SMembers(ctx, config.CacheKey.AttemptMarksKey(examID, studentID)).Result()
	if err != nil {
		return nil, nil, "", err
	}
	token, err := c.rdb.Get(ctx, config.CacheKey.AttemptTokenKey(examID, studentID)).Result()
	if err == redis.Nil {
		token = ""
	} else if err != nil {
		return nil, nil, "", err
	}
	return answers, marks, token, nil
}

// Clear implements Checkpointer.
func (c *RedisCheckpointer) Clear(ctx context.Context, examID string, studentID int) {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(examID, studentID))
	pipe.Del(ctx, config.CacheKey.AttemptMarksKey(examID, studentID))
	pipe.Del(ctx, config.CacheKey.AttemptTokenKey(examID, studentID))
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).
			Str("exam_id", examID).
			Int("student_id", studentID).
			Msg("Checkpoint clear failed")
	}
}
