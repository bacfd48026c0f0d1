package meetings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/metrics"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/internal/postprocess"
	"github.com/aura-meetings/backend/pkg/apperror"
	"github.com/aura-meetings/backend/pkg/utils"
)

// Events pushed to room subscribers.
const (
	EventMeetingStarted    = "meeting_started"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventMeetingEnded      = "meeting_ended"
	EventSummaryReady      = "summary_ready"
)

const (
	defaultDispatchTimeout = 5 * time.Second
	stuckSweepBatch        = 100
	// redispatchWindow bounds how far back the sweeper looks for ended meetings without a
	// summary. Older ones stay with the dead-letter queue.
	redispatchWindow = 24 * time.Hour
)

// RoomResolver looks up a room's static configuration. It returns nil, nil for unknown rooms.
type RoomResolver interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Room, error)
}

// UsageGate enforces the account's monthly meeting quota.
type UsageGate interface {
	Check(ctx context.Context, userID uuid.UUID) error
	RecordStart(ctx context.Context, userID uuid.UUID) error
}

// EventPublisher fans meeting events out to room subscribers.
type EventPublisher interface {
	Publish(roomIdentifier, event string, payload interface{})
}

// Deps are the collaborators of Service. Usage, Dispatcher and Events are optional.
type Deps struct {
	Store      Store
	Rooms      RoomResolver
	Usage      UsageGate
	Dispatcher postprocess.Dispatcher
	Events     EventPublisher
	Logger     *zap.Logger
	// DispatchTimeout bounds the post-processing hand-off. Defaults to 5s.
	DispatchTimeout time.Duration
}

// Service runs the meeting lifecycle: start-or-join, leave bookkeeping, and exactly-once finalize.
type Service struct {
	store           Store
	rooms           RoomResolver
	usage           UsageGate
	dispatcher      postprocess.Dispatcher
	events          EventPublisher
	logger          *zap.Logger
	dispatchTimeout time.Duration
	now             func() time.Time
	inflight        sync.WaitGroup
}

// NewService creates the meeting lifecycle service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = defaultDispatchTimeout
	}
	return &Service{
		store:           d.Store,
		rooms:           d.Rooms,
		usage:           d.Usage,
		dispatcher:      d.Dispatcher,
		events:          d.Events,
		logger:          d.Logger,
		dispatchTimeout: d.DispatchTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the backing store to the post-processing worker.
func (s *Service) Store() Store { return s.store }

// StartRequest is a join attempt for a room.
type StartRequest struct {
	RoomIdentifier      string
	ParticipantIdentity string
	Passcode            string
	UserID              *uuid.UUID
}

// StartResult tells the caller which session it is in.
type StartResult struct {
	SessionID       uuid.UUID `json:"session_id"`
	WasNewlyCreated bool      `json:"was_newly_created"`
	StartedAt       time.Time `json:"started_at"`
}

// StartOrJoin attaches the caller to the room's open session, creating it when there is none.
func (s *Service) StartOrJoin(ctx context.Context, req StartRequest) (*StartResult, error) {
	const op = "meetings.StartOrJoin"
	req.RoomIdentifier = strings.TrimSpace(req.RoomIdentifier)
	req.ParticipantIdentity = strings.TrimSpace(req.ParticipantIdentity)
	if req.UserID == nil {
		return nil, apperror.Unauthorized(op, "authentication required")
	}
	if req.RoomIdentifier == "" {
		return nil, apperror.Validation(op, "room_identifier is required")
	}
	if req.ParticipantIdentity == "" {
		return nil, apperror.Validation(op, "participant_identity is required")
	}

	room, err := s.rooms.GetByIdentifier(ctx, req.RoomIdentifier)
	if err != nil {
		return nil, apperror.Unavailable(op, err)
	}
	if room == nil {
		return nil, apperror.NotFound(op, "room not found")
	}
	if room.PasscodeHash != "" && !utils.CheckSecret(req.Passcode, room.PasscodeHash) {
		return nil, apperror.Forbidden(op, "invalid room passcode")
	}

	// Joining a running session does not consume quota; only a start would.
	if s.usage != nil {
		open, err := s.store.GetOpenByRoom(ctx, room.Identifier)
		if err != nil {
			return nil, apperror.Unavailable(op, err)
		}
		if open == nil {
			if err := s.usage.Check(ctx, *req.UserID); err != nil {
				return nil, err
			}
		}
	}

	m, created, err := s.store.CreateOrJoin(ctx, room, req.ParticipantIdentity, req.UserID)
	if err != nil {
		return nil, apperror.Unavailable(op, err)
	}
	metrics.RecordStartOrJoin(created)

	if created {
		if s.usage != nil {
			if err := s.usage.RecordStart(ctx, *req.UserID); err != nil {
				s.logger.Warn("usage record failed", zap.String("user_id", req.UserID.String()), zap.Error(err))
			}
		}
		s.publish(room.Identifier, EventMeetingStarted, map[string]interface{}{
			"session_id": m.ID, "started_at": m.StartedAt, "started_by": req.ParticipantIdentity,
		})
		s.logger.Info("meeting started", zap.String("meeting_id", m.ID.String()), zap.String("room", room.Identifier))
	}
	s.publish(room.Identifier, EventParticipantJoined, map[string]interface{}{
		"session_id": m.ID, "identity": req.ParticipantIdentity, "active_participant_count": m.ActiveParticipantCount,
	})

	return &StartResult{SessionID: m.ID, WasNewlyCreated: created, StartedAt: m.StartedAt}, nil
}

// EndDecision is the arbiter's verdict for one end signal.
type EndDecision struct {
	ActiveParticipantCount int  `json:"active_participant_count"`
	ShouldFinalize         bool `json:"should_finalize"`
	AlreadyHandled         bool `json:"already_handled"`
}

// RecordLeave marks a participant as gone. ShouldFinalize is true only for the leave that
// brought the counter to zero.
func (s *Service) RecordLeave(ctx context.Context, meetingID uuid.UUID, identity string) (*EndDecision, error) {
	const op = "meetings.RecordLeave"
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperror.Validation(op, "participant_identity is required")
	}
	out, err := s.store.RecordLeave(ctx, meetingID, identity)
	if errors.Is(err, ErrDeleted) {
		metrics.MeetingLeaves.WithLabelValues("already_handled").Inc()
		return &EndDecision{AlreadyHandled: true}, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	if out.Status != models.MeetingStatusActive {
		metrics.MeetingLeaves.WithLabelValues("already_handled").Inc()
		return &EndDecision{ActiveParticipantCount: out.ActiveParticipantCount, AlreadyHandled: true}, nil
	}

	d := &EndDecision{
		ActiveParticipantCount: out.ActiveParticipantCount,
		ShouldFinalize:         out.Transitioned && out.PreviousCount > 0 && out.ActiveParticipantCount == 0,
	}
	if d.ShouldFinalize {
		metrics.MeetingLeaves.WithLabelValues("should_finalize").Inc()
	} else {
		metrics.MeetingLeaves.WithLabelValues("continue").Inc()
	}
	if out.Transitioned {
		s.publish(out.RoomIdentifier, EventParticipantLeft, map[string]interface{}{
			"session_id": meetingID, "identity": identity, "active_participant_count": d.ActiveParticipantCount,
		})
	}
	return d, nil
}

// ForceFinalize applies an authoritative "room is empty" signal: an active session should be
// finalized no matter what the participant counter says.
func (s *Service) ForceFinalize(ctx context.Context, meetingID uuid.UUID) (*EndDecision, error) {
	const op = "meetings.ForceFinalize"
	m, err := s.store.Get(ctx, meetingID)
	if errors.Is(err, ErrDeleted) {
		return &EndDecision{AlreadyHandled: true}, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	if m.Status != models.MeetingStatusActive {
		return &EndDecision{ActiveParticipantCount: m.ActiveParticipantCount, AlreadyHandled: true}, nil
	}
	return &EndDecision{ActiveParticipantCount: m.ActiveParticipantCount, ShouldFinalize: true}, nil
}

// EndPayload is what the ending caller collected during the session.
type EndPayload struct {
	Transcripts  []models.TranscriptRecord
	Participants []models.Participant
	EndedAt      *time.Time
}

// FinalizeResult reports the outcome of one finalize attempt.
type FinalizeResult struct {
	Finalized      bool `json:"finalized"`
	Deleted        bool `json:"deleted"`
	AlreadyHandled bool `json:"already_handled"`
}

// Finalize ends the session exactly once. Losers of the claim get AlreadyHandled, including
// callers arriving after an empty session was deleted. A session with no transcripts is
// deleted instead of ended.
func (s *Service) Finalize(ctx context.Context, meetingID uuid.UUID, p EndPayload) (*FinalizeResult, error) {
	const op = "meetings.Finalize"
	p.Transcripts = append([]models.TranscriptRecord(nil), p.Transcripts...)
	for i, t := range p.Transcripts {
		if strings.TrimSpace(t.Text) == "" {
			return nil, apperror.Validation(op, "transcript text is required")
		}
		if t.Timestamp.IsZero() {
			p.Transcripts[i].Timestamp = s.now()
		}
	}

	claimed, err := s.store.ClaimFinalize(ctx, meetingID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if !claimed {
		metrics.MeetingFinalizes.WithLabelValues("already_handled").Inc()
		return &FinalizeResult{AlreadyHandled: true}, nil
	}

	m, err := s.store.Get(ctx, meetingID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	endedAt := s.now()
	if p.EndedAt != nil && !p.EndedAt.Before(m.StartedAt) && !p.EndedAt.After(endedAt) {
		endedAt = p.EndedAt.UTC()
	}

	res, err := s.store.CompleteFinalize(ctx, meetingID, Completion{
		Transcripts:  p.Transcripts,
		Participants: p.Participants,
		EndedAt:      endedAt,
	})
	if err != nil {
		// The meeting stays in ending; the sweeper completes it.
		return nil, storeErr(op, err)
	}
	s.afterComplete(m.RoomIdentifier, meetingID, res)
	return &FinalizeResult{Finalized: true, Deleted: res.Deleted}, nil
}

// EndByOccupancy handles the transport's "room confirmed empty" signal for a room. It is a
// no-op when the room has no open session.
func (s *Service) EndByOccupancy(ctx context.Context, roomIdentifier string) (*FinalizeResult, error) {
	const op = "meetings.EndByOccupancy"
	open, err := s.store.GetOpenByRoom(ctx, roomIdentifier)
	if err != nil {
		return nil, apperror.Unavailable(op, err)
	}
	if open == nil {
		return &FinalizeResult{AlreadyHandled: true}, nil
	}
	d, err := s.ForceFinalize(ctx, open.ID)
	if err != nil {
		return nil, err
	}
	if !d.ShouldFinalize {
		return &FinalizeResult{AlreadyHandled: true}, nil
	}
	return s.Finalize(ctx, open.ID, EndPayload{})
}

// ParticipantLeftRoom records a transport-reported leave against the room's open session and
// finalizes from live transcripts when it was the last participant.
func (s *Service) ParticipantLeftRoom(ctx context.Context, roomIdentifier, identity string) (*EndDecision, error) {
	const op = "meetings.ParticipantLeftRoom"
	open, err := s.store.GetOpenByRoom(ctx, roomIdentifier)
	if err != nil {
		return nil, apperror.Unavailable(op, err)
	}
	if open == nil {
		return &EndDecision{AlreadyHandled: true}, nil
	}
	d, err := s.RecordLeave(ctx, open.ID, identity)
	if err != nil {
		return nil, err
	}
	if d.ShouldFinalize {
		if _, err := s.Finalize(ctx, open.ID, EndPayload{}); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AppendTranscripts adds live transcript records to an active session.
func (s *Service) AppendTranscripts(ctx context.Context, meetingID uuid.UUID, records []models.TranscriptRecord) (int, error) {
	const op = "meetings.AppendTranscripts"
	if len(records) == 0 {
		return 0, apperror.Validation(op, "at least one transcript record is required")
	}
	records = append([]models.TranscriptRecord(nil), records...)
	for i, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			return 0, apperror.Validation(op, "transcript text is required")
		}
		if r.Timestamp.IsZero() {
			records[i].Timestamp = s.now()
		}
	}
	n, err := s.store.AppendTranscripts(ctx, meetingID, records)
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// Get returns a meeting with participants, transcripts and summary.
func (s *Service) Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	m, err := s.store.Get(ctx, meetingID)
	if err != nil {
		return nil, storeErr("meetings.Get", err)
	}
	return m, nil
}

// ListByRoom returns past and current sessions of a room, newest first.
func (s *Service) ListByRoom(ctx context.Context, roomIdentifier string, limit int) ([]models.Meeting, error) {
	list, err := s.store.ListByRoom(ctx, roomIdentifier, limit)
	if err != nil {
		return nil, apperror.Unavailable("meetings.ListByRoom", err)
	}
	if list == nil {
		list = []models.Meeting{}
	}
	return list, nil
}

// ResolveStuck completes sessions whose claimant never finished, using the transcripts
// recorded live. It returns how many sessions were resolved.
func (s *Service) ResolveStuck(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := s.store.ListStuckEnding(ctx, s.now().Add(-grace), stuckSweepBatch)
	if err != nil {
		return 0, apperror.Unavailable("meetings.ResolveStuck", err)
	}
	resolved := 0
	for _, id := range ids {
		m, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		res, err := s.store.CompleteFinalize(ctx, id, Completion{EndedAt: s.now()})
		if errors.Is(err, ErrNotClaimed) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("resolve stuck meeting failed", zap.String("meeting_id", id.String()), zap.Error(err))
			continue
		}
		s.afterComplete(m.RoomIdentifier, id, res)
		metrics.StuckMeetingsResolved.Inc()
		resolved++
	}
	return resolved, nil
}

// RedispatchUnsummarized hands ended meetings that still have no summary back to
// post-processing. It covers dispatches lost while the queue was unreachable; the queue's
// dedupe key turns meetings that were already accepted into no-ops.
func (s *Service) RedispatchUnsummarized(ctx context.Context, grace time.Duration) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	before := s.now().Add(-grace)
	ids, err := s.store.ListUnsummarized(ctx, before.Add(-redispatchWindow), before, stuckSweepBatch)
	if err != nil {
		return 0, apperror.Unavailable("meetings.RedispatchUnsummarized", err)
	}
	sent := 0
	for _, id := range ids {
		m, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if err := s.handOff(ctx, jobFor(m)); err != nil {
			// Still unreachable; the next sweep tries again.
			return sent, apperror.Unavailable("meetings.RedispatchUnsummarized", err)
		}
		metrics.SummariesRedispatched.Inc()
		sent++
	}
	return sent, nil
}

// PublishSummaryReady tells room subscribers that a summary can be fetched.
func (s *Service) PublishSummaryReady(roomIdentifier string, meetingID uuid.UUID) {
	s.publish(roomIdentifier, EventSummaryReady, map[string]interface{}{"session_id": meetingID})
}

// Wait blocks until in-flight post-processing hand-offs have returned.
func (s *Service) Wait() { s.inflight.Wait() }

func (s *Service) afterComplete(roomIdentifier string, meetingID uuid.UUID, res CompletionResult) {
	if res.Deleted {
		metrics.MeetingFinalizes.WithLabelValues("deleted").Inc()
		s.logger.Info("empty meeting deleted", zap.String("meeting_id", meetingID.String()), zap.String("room", roomIdentifier))
		s.publish(roomIdentifier, EventMeetingEnded, map[string]interface{}{"session_id": meetingID, "deleted": true})
		return
	}
	metrics.MeetingFinalizes.WithLabelValues("ended").Inc()
	m := res.Meeting
	s.logger.Info("meeting ended",
		zap.String("meeting_id", meetingID.String()),
		zap.String("room", roomIdentifier),
		zap.Int("transcripts", len(m.TranscriptRecords)),
		zap.Int("participants", len(m.Participants)),
	)
	s.publish(roomIdentifier, EventMeetingEnded, map[string]interface{}{"session_id": meetingID, "deleted": false, "ended_at": m.EndedAt})
	s.dispatch(jobFor(m))
}

func jobFor(m *models.Meeting) postprocess.Job {
	return postprocess.Job{
		MeetingID:      m.ID,
		RoomIdentifier: m.RoomIdentifier,
		Transcripts:    m.TranscriptRecords,
		Participants:   m.ParticipantIdentities(),
	}
}

// dispatch hands the job off in the background, detached from the request so the caller's
// response never waits on it.
func (s *Service) dispatch(job postprocess.Job) {
	if s.dispatcher == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.handOff(context.Background(), job)
	}()
}

// handOff runs one dispatch under its own deadline.
func (s *Service) handOff(ctx context.Context, job postprocess.Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		metrics.DispatchFailures.Inc()
		s.logger.Error("post-processing dispatch failed",
			zap.String("meeting_id", job.MeetingID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) publish(roomIdentifier, event string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(roomIdentifier, event, payload)
}

func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound(op, "meeting not found")
	case errors.Is(err, ErrNotActive):
		return apperror.Conflict(op, "meeting is not active")
	case errors.Is(err, ErrNotClaimed):
		return apperror.Conflict(op, "meeting is not being finalized")
	default:
		return apperror.Unavailable(op, err)
	}
}
