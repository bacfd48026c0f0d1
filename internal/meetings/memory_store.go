package meetings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-meetings/backend/internal/models"
)

// MemoryStore keeps meetings in process memory. A single mutex serializes every operation,
// so it is only correct for a single instance (dev mode and tests).
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]*models.Meeting
	open     map[string]uuid.UUID // room identifier -> active/ending meeting
	deleted  map[uuid.UUID]time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meetings: make(map[uuid.UUID]*models.Meeting),
		open:     make(map[string]uuid.UUID),
		deleted:  make(map[uuid.UUID]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateOrJoin(_ context.Context, room *models.Room, identity string, startedBy *uuid.UUID) (*models.Meeting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := false
	m, ok := s.openLocked(room.Identifier)
	if !ok {
		m = &models.Meeting{
			ID:             uuid.New(),
			RoomID:         room.ID,
			RoomIdentifier: room.Identifier,
			Status:         models.MeetingStatusActive,
			StartedBy:      startedBy,
			StartedAt:      now,
			CreatedAt:      now,
		}
		s.meetings[m.ID] = m
		s.open[room.Identifier] = m.ID
		created = true
	}

	found := false
	for i := range m.Participants {
		p := &m.Participants[i]
		if p.Identity != identity {
			continue
		}
		found = true
		p.LeftAt = nil
	}
	if !found {
		m.Participants = append(m.Participants, models.Participant{Identity: identity, JoinedAt: now})
	}
	m.ActiveParticipantCount = presentCount(m.Participants)
	m.UpdatedAt = now
	return cloneMeeting(m), created, nil
}

func (s *MemoryStore) RecordLeave(_ context.Context, meetingID uuid.UUID, identity string) (LeaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return LeaveOutcome{}, s.missingLocked(meetingID)
	}
	out := LeaveOutcome{RoomIdentifier: m.RoomIdentifier, Status: m.Status, PreviousCount: m.ActiveParticipantCount, ActiveParticipantCount: m.ActiveParticipantCount}
	if m.Status != models.MeetingStatusActive {
		return out, nil
	}
	now := s.now()
	for i := range m.Participants {
		p := &m.Participants[i]
		if p.Identity == identity && p.LeftAt == nil {
			p.LeftAt = &now
			out.Transitioned = true
			break
		}
	}
	if out.Transitioned && m.ActiveParticipantCount > 0 {
		m.ActiveParticipantCount--
		m.UpdatedAt = now
	}
	out.ActiveParticipantCount = m.ActiveParticipantCount
	return out, nil
}

func (s *MemoryStore) AppendTranscripts(_ context.Context, meetingID uuid.UUID, records []models.TranscriptRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		if _, gone := s.deleted[meetingID]; gone {
			return 0, ErrNotActive
		}
		return 0, ErrNotFound
	}
	if m.Status != models.MeetingStatusActive {
		return 0, ErrNotActive
	}
	m.TranscriptRecords = append(m.TranscriptRecords, records...)
	m.UpdatedAt = s.now()
	return len(m.TranscriptRecords), nil
}

func (s *MemoryStore) ClaimFinalize(_ context.Context, meetingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		if _, gone := s.deleted[meetingID]; gone {
			return false, nil
		}
		return false, ErrNotFound
	}
	if m.Status != models.MeetingStatusActive {
		return false, nil
	}
	now := s.now()
	m.Status = models.MeetingStatusEnding
	m.EndingAt = &now
	m.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) CompleteFinalize(_ context.Context, meetingID uuid.UUID, c Completion) (CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return CompletionResult{}, s.missingLocked(meetingID)
	}
	if m.Status != models.MeetingStatusEnding {
		return CompletionResult{}, ErrNotClaimed
	}
	if len(c.Transcripts) > 0 {
		m.TranscriptRecords = append([]models.TranscriptRecord(nil), c.Transcripts...)
	}
	if len(m.TranscriptRecords) == 0 {
		delete(s.meetings, meetingID)
		s.deleted[meetingID] = s.now()
		s.releaseLocked(m)
		return CompletionResult{Deleted: true}, nil
	}

	endedAt := c.EndedAt
	known := make(map[string]bool, len(m.Participants))
	for _, p := range m.Participants {
		known[p.Identity] = true
	}
	for _, p := range c.Participants {
		if p.Identity == "" || known[p.Identity] {
			continue
		}
		known[p.Identity] = true
		m.Participants = append(m.Participants, p)
	}
	for i := range m.Participants {
		if m.Participants[i].LeftAt == nil {
			m.Participants[i].LeftAt = &endedAt
		}
	}
	m.Status = models.MeetingStatusEnded
	m.EndedAt = &endedAt
	m.ActiveParticipantCount = 0
	m.UpdatedAt = s.now()
	s.releaseLocked(m)
	return CompletionResult{Meeting: cloneMeeting(m)}, nil
}

func (s *MemoryStore) Get(_ context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, s.missingLocked(meetingID)
	}
	return cloneMeeting(m), nil
}

func (s *MemoryStore) GetOpenByRoom(_ context.Context, roomIdentifier string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.openLocked(roomIdentifier)
	if !ok {
		return nil, nil
	}
	return cloneMeeting(m), nil
}

func (s *MemoryStore) ListByRoom(_ context.Context, roomIdentifier string, limit int) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []models.Meeting
	for _, m := range s.meetings {
		if m.RoomIdentifier == roomIdentifier {
			list = append(list, *cloneMeeting(m))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryStore) ListStuckEnding(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, m := range s.meetings {
		if m.Status == models.MeetingStatusEnding && m.EndingAt != nil && m.EndingAt.Before(before) {
			ids = append(ids, id)
		}
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListUnsummarized(_ context.Context, after, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, m := range s.meetings {
		if m.Status != models.MeetingStatusEnded || m.Summary != nil || m.EndedAt == nil {
			continue
		}
		if m.EndedAt.Before(after) || !m.EndedAt.Before(before) {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, meetingID uuid.UUID, summary *models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return s.missingLocked(meetingID)
	}
	cp := *summary
	m.Summary = &cp
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) missingLocked(meetingID uuid.UUID) error {
	if _, ok := s.deleted[meetingID]; ok {
		return ErrDeleted
	}
	return ErrNotFound
}

func (s *MemoryStore) openLocked(roomIdentifier string) (*models.Meeting, bool) {
	id, ok := s.open[roomIdentifier]
	if !ok {
		return nil, false
	}
	m, ok := s.meetings[id]
	return m, ok
}

func (s *MemoryStore) releaseLocked(m *models.Meeting) {
	if s.open[m.RoomIdentifier] == m.ID {
		delete(s.open, m.RoomIdentifier)
	}
}

func presentCount(ps []models.Participant) int {
	n := 0
	for _, p := range ps {
		if p.LeftAt == nil {
			n++
		}
	}
	return n
}

func cloneMeeting(m *models.Meeting) *models.Meeting {
	cp := *m
	cp.Participants = append([]models.Participant(nil), m.Participants...)
	cp.TranscriptRecords = append([]models.TranscriptRecord(nil), m.TranscriptRecords...)
	if m.Summary != nil {
		s := *m.Summary
		cp.Summary = &s
	}
	return &cp
}
