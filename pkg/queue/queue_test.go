package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobEnvelope(t *testing.T) {
	id := uuid.New()
	payload := SummaryPayload{
		MeetingID:      id,
		RoomIdentifier: "standup-1",
		Transcripts:    []Transcript{{Speaker: "alice", Text: "hi", Timestamp: time.Unix(10, 0).UTC()}},
		Participants:   []string{"alice", "bob"},
	}

	job, err := NewJob(JobTypeMeetingSummary, payload)
	require.NoError(t, err)
	assert.Equal(t, JobTypeMeetingSummary, job.Type)
	assert.Zero(t, job.Attempt)
	assert.NotEmpty(t, job.ID)

	var decoded SummaryPayload
	require.NoError(t, json.Unmarshal(job.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestDispatchKey(t *testing.T) {
	id := uuid.MustParse("7f1c6d8e-3a0b-4d55-9a55-2c7b0f0e9a11")
	assert.Equal(t, "meeting:postprocess:7f1c6d8e-3a0b-4d55-9a55-2c7b0f0e9a11", DispatchKey(id))
}

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr, client
}

func TestEnqueueSummary_OncePerMeeting(t *testing.T) {
	q, mr, client := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New()
	payload := SummaryPayload{MeetingID: id, RoomIdentifier: "standup-1", Participants: []string{"alice"}}

	ok, err := q.EnqueueSummary(ctx, payload)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.EnqueueSummary(ctx, payload)
	require.NoError(t, err)
	assert.False(t, ok, "second dispatch for the same meeting is a no-op")

	n, err := client.LLen(ctx, QueueSummaries).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, mr.Exists(DispatchKey(id)))
	assert.Equal(t, DispatchKeyTTL, mr.TTL(DispatchKey(id)))

	ok, err = q.EnqueueSummary(ctx, SummaryPayload{MeetingID: uuid.New(), RoomIdentifier: "retro"})
	require.NoError(t, err)
	assert.True(t, ok)
	n, err = client.LLen(ctx, QueueSummaries).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeMeetingSummary, job.Type)
	var got SummaryPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, id, got.MeetingID)
	assert.Equal(t, "standup-1", got.RoomIdentifier)
}

func TestEnqueueSummary_ConcurrentDispatchesEnqueueOnce(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()
	payload := SummaryPayload{MeetingID: uuid.New(), RoomIdentifier: "r"}

	var wg sync.WaitGroup
	var enqueued int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.EnqueueSummary(ctx, payload)
			if assert.NoError(t, err) && ok {
				atomic.AddInt32(&enqueued, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&enqueued))
	n, err := client.LLen(ctx, QueueSummaries).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEnqueueSummary_RedisDown(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	mr.Close()
	_, err := q.EnqueueSummary(context.Background(), SummaryPayload{MeetingID: uuid.New()})
	assert.Error(t, err)
}

func TestRetry_DeadLettersAtMaxRetries(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	ok, err := q.EnqueueSummary(ctx, SummaryPayload{MeetingID: uuid.New(), RoomIdentifier: "r"})
	require.NoError(t, err)
	require.True(t, ok)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	for attempt := 1; attempt < MaxRetries; attempt++ {
		require.NoError(t, q.Retry(ctx, job))
		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d is requeued", attempt)
		assert.Equal(t, attempt, job.Attempt)
	}
	dlq, err := client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.Zero(t, dlq)

	require.NoError(t, q.Retry(ctx, job))
	pending, err := client.LLen(ctx, QueueSummaries).Result()
	require.NoError(t, err)
	assert.Zero(t, pending)

	raw, err := client.LRange(ctx, QueueDLQ, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var dead Job
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &dead))
	assert.Equal(t, job.ID, dead.ID)
	assert.Equal(t, MaxRetries, dead.Attempt)
}

func TestDequeue_SkipsMalformedJob(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	_, err := mr.Push(QueueSummaries, "not a job")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}
