package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-meetings/backend/internal/models"
)

var (
	// ErrNotFound is returned when a meeting id is unknown.
	ErrNotFound = errors.New("meeting not found")
	// ErrDeleted is returned for a session removed at finalize for having no transcripts.
	// It matches ErrNotFound, so reads keep treating the id as gone.
	ErrDeleted = fmt.Errorf("%w: deleted without transcripts", ErrNotFound)
	// ErrNotActive is returned when an operation needs an active meeting.
	ErrNotActive = errors.New("meeting not active")
	// ErrNotClaimed is returned by CompleteFinalize when the meeting is not in the ending state.
	ErrNotClaimed = errors.New("meeting not claimed for finalize")
)

// LeaveOutcome is what the store observed while recording a leave.
type LeaveOutcome struct {
	RoomIdentifier         string
	Status                 models.MeetingStatus
	PreviousCount          int
	ActiveParticipantCount int
	// Transitioned is true when this call set left_at on a present participant.
	Transitioned bool
}

// Completion carries what the claimant collected for a meeting it is finalizing.
type Completion struct {
	// Transcripts, when non-empty, replace records appended during the session.
	Transcripts  []models.TranscriptRecord
	Participants []models.Participant
	EndedAt      time.Time
}

// CompletionResult reports how a claimed meeting was resolved.
type CompletionResult struct {
	Deleted bool
	Meeting *models.Meeting // nil when deleted
}

// Store owns the meeting record. Every cross-request decision is a single atomic operation
// here: create-or-join, decrement-and-check, claim-for-finalize.
type Store interface {
	// CreateOrJoin returns the open session for the room, creating one when none exists,
	// and records identity as a present participant. created reports which happened.
	CreateOrJoin(ctx context.Context, room *models.Room, identity string, startedBy *uuid.UUID) (meeting *models.Meeting, created bool, err error)
	// RecordLeave marks identity as gone and decrements the active counter when it was present.
	// It returns ErrDeleted for a session already removed at finalize.
	RecordLeave(ctx context.Context, meetingID uuid.UUID, identity string) (LeaveOutcome, error)
	// AppendTranscripts adds live records to an active meeting.
	AppendTranscripts(ctx context.Context, meetingID uuid.UUID, records []models.TranscriptRecord) (int, error)
	// ClaimFinalize moves active -> ending. Only one caller ever gets true; a deleted session
	// reports false like any other finished one.
	ClaimFinalize(ctx context.Context, meetingID uuid.UUID) (bool, error)
	// CompleteFinalize resolves an ending meeting: ended with transcripts, or deleted without.
	// A deletion leaves a tombstone so later end signals resolve as already handled.
	CompleteFinalize(ctx context.Context, meetingID uuid.UUID, c Completion) (CompletionResult, error)
	Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error)
	// GetOpenByRoom returns the active or ending session of a room, nil when there is none.
	GetOpenByRoom(ctx context.Context, roomIdentifier string) (*models.Meeting, error)
	ListByRoom(ctx context.Context, roomIdentifier string, limit int) ([]models.Meeting, error)
	// ListStuckEnding returns meetings that entered ending before the cutoff.
	ListStuckEnding(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	// ListUnsummarized returns ended meetings without a summary whose end falls in [after, before).
	ListUnsummarized(ctx context.Context, after, before time.Time, limit int) ([]uuid.UUID, error)
	// SaveSummary stores the post-processing result of an ended meeting.
	SaveSummary(ctx context.Context, meetingID uuid.UUID, summary *models.Summary) error
}
