package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueSummaries is the Redis list key for meeting post-processing jobs.
	QueueSummaries = "worker:summaries"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// DispatchKeyPrefix prefixes the per-meeting dedupe key set on first dispatch.
	DispatchKeyPrefix = "meeting:postprocess:"
	// DispatchKeyTTL bounds how long a dispatch is remembered.
	DispatchKeyTTL = 7 * 24 * time.Hour
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout is how long Dequeue blocks before returning empty so callers can observe ctx.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeMeetingSummary JobType = "meeting_summary"
)

// Transcript is one transcript line carried to post-processing.
type Transcript struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SummaryPayload is the payload for meeting post-processing jobs.
type SummaryPayload struct {
	MeetingID      uuid.UUID    `json:"meeting_id"`
	RoomIdentifier string       `json:"room_identifier"`
	Transcripts    []Transcript `json:"transcripts"`
	Participants   []string     `json:"participants"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// enqueueOnce sets the dedupe key and pushes the job in one step, so a retried dispatch
// for the same meeting never produces a second job.
var enqueueOnce = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[2], 'NX', 'EX', ARGV[3]) then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// DispatchKey returns the dedupe key for a meeting.
func DispatchKey(meetingID uuid.UUID) string {
	return DispatchKeyPrefix + meetingID.String()
}

// NewJob wraps a payload in a fresh envelope.
func NewJob(typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EnqueueSummary enqueues a post-processing job for a finalized meeting. It returns false
// without enqueuing when the meeting was already dispatched.
func (q *Queue) EnqueueSummary(ctx context.Context, payload SummaryPayload) (bool, error) {
	job, err := NewJob(JobTypeMeetingSummary, payload)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	keys := []string{DispatchKey(payload.MeetingID), QueueSummaries}
	n, err := enqueueOnce.Run(ctx, q.client, keys, raw, job.ID, int(DispatchKeyTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue summary: %w", err)
	}
	if n == 0 {
		q.logger.Debug("summary job already dispatched", zap.String("meeting_id", payload.MeetingID.String()))
		return false, nil
	}
	q.logger.Debug("enqueued summary job", zap.String("job_id", job.ID), zap.String("meeting_id", payload.MeetingID.String()))
	return true, nil
}

// Dequeue blocks up to PollTimeout for a job. It returns nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueSummaries).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueSummaries, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
