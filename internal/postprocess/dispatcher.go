// Package postprocess hands finalized meetings to asynchronous summarization.
package postprocess

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/queue"
)

// Job is what post-processing needs to know about a finalized meeting.
type Job struct {
	MeetingID      uuid.UUID
	RoomIdentifier string
	Transcripts    []models.TranscriptRecord
	Participants   []string
}

// Dispatcher accepts finalized meetings. Dispatch must return quickly and must be safe to
// call more than once for the same meeting.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Enqueuer is the queue operation QueueDispatcher depends on.
type Enqueuer interface {
	EnqueueSummary(ctx context.Context, payload queue.SummaryPayload) (bool, error)
}

// QueueDispatcher pushes jobs onto the Redis summary queue.
type QueueDispatcher struct {
	q      Enqueuer
	logger *zap.Logger
}

// NewQueueDispatcher creates a dispatcher backed by the job queue.
func NewQueueDispatcher(q Enqueuer, logger *zap.Logger) *QueueDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{q: q, logger: logger}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	payload := queue.SummaryPayload{
		MeetingID:      job.MeetingID,
		RoomIdentifier: job.RoomIdentifier,
		Participants:   job.Participants,
		Transcripts:    make([]queue.Transcript, 0, len(job.Transcripts)),
	}
	for _, t := range job.Transcripts {
		payload.Transcripts = append(payload.Transcripts, queue.Transcript{Speaker: t.Speaker, Text: t.Text, Timestamp: t.Timestamp})
	}
	enqueued, err := d.q.EnqueueSummary(ctx, payload)
	if err != nil {
		return fmt.Errorf("dispatch meeting %s: %w", job.MeetingID, err)
	}
	if !enqueued {
		d.logger.Info("post-processing already dispatched", zap.String("meeting_id", job.MeetingID.String()))
	}
	return nil
}
