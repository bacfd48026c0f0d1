package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-meetings/backend/internal/meetings"
	"github.com/aura-meetings/backend/internal/metrics"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/internal/summarizer"
	"github.com/aura-meetings/backend/pkg/queue"
)

// Jobs is the queue surface the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// MeetingStore reads meetings and stores their summaries.
type MeetingStore interface {
	Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error)
	SaveSummary(ctx context.Context, meetingID uuid.UUID, summary *models.Summary) error
}

// Notifier announces finished summaries to room subscribers.
type Notifier interface {
	PublishSummaryReady(roomIdentifier string, meetingID uuid.UUID)
}

// Archiver stores the transcript document of a finished meeting.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, roomIdentifier, meetingID string, body []byte) (string, error)
}

// TranscriptDocument is the archived JSON form of a meeting transcript.
type TranscriptDocument struct {
	MeetingID      uuid.UUID                 `json:"meeting_id"`
	RoomIdentifier string                    `json:"room_identifier"`
	StartedAt      time.Time                 `json:"started_at"`
	EndedAt        *time.Time                `json:"ended_at,omitempty"`
	Participants   []string                  `json:"participants"`
	Transcripts    []models.TranscriptRecord `json:"transcripts"`
}

// SummaryProcessor turns post-processing jobs into stored summaries.
type SummaryProcessor struct {
	store      MeetingStore
	summarizer summarizer.Summarizer
	archive    Archiver
	notifier   Notifier
	queue      Jobs
	logger     *zap.Logger
	backoff    time.Duration
}

// NewSummaryProcessor creates a summary processor. archive and notifier may be nil.
func NewSummaryProcessor(store MeetingStore, s summarizer.Summarizer, archive Archiver, notifier Notifier, q Jobs, logger *zap.Logger) *SummaryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryProcessor{
		store:      store,
		summarizer: s,
		archive:    archive,
		notifier:   notifier,
		queue:      q,
		logger:     logger,
		backoff:    queue.RetryBackoff,
	}
}

// Process executes one summary job. Jobs for deleted, already-summarized or empty meetings
// succeed without doing anything.
func (p *SummaryProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMeetingSummary {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SummaryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("meeting_id", payload.MeetingID.String()))

	m, err := p.store.Get(ctx, payload.MeetingID)
	if errors.Is(err, meetings.ErrNotFound) {
		log.Info("meeting gone, skipping summary")
		metrics.SummaryJobs.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	if m.Summary != nil {
		log.Info("meeting already summarized")
		metrics.SummaryJobs.WithLabelValues("skipped").Inc()
		return nil
	}

	transcripts := make([]models.TranscriptRecord, 0, len(payload.Transcripts))
	for _, t := range payload.Transcripts {
		transcripts = append(transcripts, models.TranscriptRecord{Speaker: t.Speaker, Text: t.Text, Timestamp: t.Timestamp})
	}
	if len(transcripts) == 0 {
		transcripts = m.TranscriptRecords
	}
	participants := payload.Participants
	if len(participants) == 0 {
		participants = m.ParticipantIdentities()
	}

	if p.archive != nil {
		body, err := json.Marshal(TranscriptDocument{
			MeetingID:      m.ID,
			RoomIdentifier: m.RoomIdentifier,
			StartedAt:      m.StartedAt,
			EndedAt:        m.EndedAt,
			Participants:   participants,
			Transcripts:    transcripts,
		})
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
		key, err := p.archive.ArchiveTranscript(ctx, m.RoomIdentifier, m.ID.String(), body)
		if err != nil {
			return fmt.Errorf("archive transcript: %w", err)
		}
		log.Debug("transcript archived", zap.String("key", key))
	}

	summary, err := p.summarizer.Summarize(ctx, summarizer.Input{
		MeetingID:      m.ID,
		RoomIdentifier: m.RoomIdentifier,
		Transcripts:    transcripts,
		Participants:   participants,
	})
	if errors.Is(err, summarizer.ErrEmptyTranscript) {
		log.Info("nothing to summarize")
		metrics.SummaryJobs.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if err := p.store.SaveSummary(ctx, m.ID, summary); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if p.notifier != nil {
		p.notifier.PublishSummaryReady(m.RoomIdentifier, m.ID)
	}
	metrics.SummaryJobs.WithLabelValues("ok").Inc()
	log.Info("meeting summarized", zap.Int("transcript_lines", len(transcripts)))
	return nil
}

// Run starts n consumers and blocks until ctx is cancelled.
func (p *SummaryProcessor) Run(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// loop is the dequeue, process, retry cycle of one consumer.
func (p *SummaryProcessor) loop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("consumer", id))
	for {
		if ctx.Err() != nil {
			log.Info("summary worker stopping")
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		log.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			log.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if job.Attempt+1 >= queue.MaxRetries {
				metrics.SummaryJobs.WithLabelValues("failed").Inc()
			} else {
				metrics.SummaryJobs.WithLabelValues("retried").Inc()
			}
			// The job is already off the list; a cancelled ctx must not lose it.
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				log.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *SummaryProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
