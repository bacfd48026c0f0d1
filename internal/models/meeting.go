package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a meeting session. It only moves forward.
type MeetingStatus string

const (
	MeetingStatusActive MeetingStatus = "active"
	MeetingStatusEnding MeetingStatus = "ending"
	MeetingStatusEnded  MeetingStatus = "ended"
)

// IsOpen reports whether the status still occupies its room.
func (s MeetingStatus) IsOpen() bool {
	return s == MeetingStatusActive || s == MeetingStatusEnding
}

// Participant is one identity's presence in a meeting.
type Participant struct {
	Identity string     `json:"identity"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// TranscriptRecord is one spoken line.
type TranscriptRecord struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the AI-generated digest of a finished meeting.
type Summary struct {
	Content     string    `json:"content"`
	KeyPoints   []string  `json:"key_points"`
	ActionItems []string  `json:"action_items"`
	Decisions   []string  `json:"decisions"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Meeting is one occupancy session of a room, from first join to finalize.
type Meeting struct {
	ID                     uuid.UUID          `json:"id"`
	RoomID                 uuid.UUID          `json:"room_id"`
	RoomIdentifier         string             `json:"room_identifier"`
	Status                 MeetingStatus      `json:"status"`
	StartedBy              *uuid.UUID         `json:"started_by,omitempty"`
	StartedAt              time.Time          `json:"started_at"`
	EndingAt               *time.Time         `json:"-"`
	EndedAt                *time.Time         `json:"ended_at,omitempty"`
	ActiveParticipantCount int                `json:"active_participant_count"`
	Participants           []Participant      `json:"participants"`
	TranscriptRecords      []TranscriptRecord `json:"transcript_records"`
	Summary                *Summary           `json:"summary,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// ParticipantIdentities returns the identities in join order.
func (m *Meeting) ParticipantIdentities() []string {
	out := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		out = append(out, p.Identity)
	}
	return out
}
