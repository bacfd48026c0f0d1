package postprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/queue"
)

type fakeEnqueuer struct {
	seen     map[uuid.UUID]bool
	payloads []queue.SummaryPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueSummary(_ context.Context, p queue.SummaryPayload) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[uuid.UUID]bool{}
	}
	if f.seen[p.MeetingID] {
		return false, nil
	}
	f.seen[p.MeetingID] = true
	f.payloads = append(f.payloads, p)
	return true, nil
}

func TestQueueDispatcher_ConvertsJob(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewQueueDispatcher(q, nil)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := Job{
		MeetingID:      uuid.New(),
		RoomIdentifier: "standup-1",
		Transcripts:    []models.TranscriptRecord{{Speaker: "alice", Text: "hi", Timestamp: ts}},
		Participants:   []string{"alice", "bob"},
	}

	require.NoError(t, d.Dispatch(context.Background(), job))
	require.Len(t, q.payloads, 1)
	got := q.payloads[0]
	assert.Equal(t, job.MeetingID, got.MeetingID)
	assert.Equal(t, "standup-1", got.RoomIdentifier)
	assert.Equal(t, []queue.Transcript{{Speaker: "alice", Text: "hi", Timestamp: ts}}, got.Transcripts)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)
}

func TestQueueDispatcher_SecondDispatchIsNoop(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewQueueDispatcher(q, nil)
	job := Job{MeetingID: uuid.New(), RoomIdentifier: "r"}

	require.NoError(t, d.Dispatch(context.Background(), job))
	require.NoError(t, d.Dispatch(context.Background(), job))
	assert.Len(t, q.payloads, 1)
}

func TestQueueDispatcher_WrapsError(t *testing.T) {
	boom := errors.New("redis down")
	d := NewQueueDispatcher(&fakeEnqueuer{err: boom}, nil)
	err := d.Dispatch(context.Background(), Job{MeetingID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
