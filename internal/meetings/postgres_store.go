package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-meetings/backend/internal/models"
)

// createAttempts bounds the insert/lock loop in CreateOrJoin. A retry is only needed when
// the open session we raced against was finalized between our insert and our lock.
const createAttempts = 3

const meetingColumns = `id, room_id, room_identifier, status, started_by, started_at, ending_at, ended_at,
	active_participant_count, summary, created_at, updated_at`

// PostgresStore persists meetings in PostgreSQL. Atomicity comes from the partial unique
// index on open sessions and from row locks taken inside transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed meeting store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateOrJoin(ctx context.Context, room *models.Room, identity string, startedBy *uuid.UUID) (*models.Meeting, bool, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		m, created, err := s.createOrJoinOnce(ctx, room, identity, startedBy)
		if errors.Is(err, errOpenSessionGone) {
			continue
		}
		return m, created, err
	}
	return nil, false, fmt.Errorf("create or join %s: open session kept changing", room.Identifier)
}

var errOpenSessionGone = errors.New("open session finalized concurrently")

func (s *PostgresStore) createOrJoinOnce(ctx context.Context, room *models.Room, identity string, startedBy *uuid.UUID) (*models.Meeting, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	const insertQ = `INSERT INTO meetings (room_id, room_identifier, status, started_by)
		VALUES ($1, $2, 'active', $3)
		ON CONFLICT (room_identifier) WHERE status IN ('active', 'ending') DO NOTHING
		RETURNING id`
	var id uuid.UUID
	created := true
	err = tx.QueryRow(ctx, insertQ, room.ID, room.Identifier, startedBy).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		const lockQ = `SELECT id FROM meetings
			WHERE room_identifier = $1 AND status IN ('active', 'ending')
			FOR UPDATE`
		err = tx.QueryRow(ctx, lockQ, room.Identifier).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, errOpenSessionGone
		}
	}
	if err != nil {
		return nil, false, err
	}

	const joinQ = `INSERT INTO meeting_participants (meeting_id, identity)
		VALUES ($1, $2)
		ON CONFLICT (meeting_id, identity) DO UPDATE SET left_at = NULL
		WHERE meeting_participants.left_at IS NOT NULL`
	if _, err := tx.Exec(ctx, joinQ, id, identity); err != nil {
		return nil, false, err
	}
	const countQ = `UPDATE meetings SET
		active_participant_count = (SELECT COUNT(*) FROM meeting_participants WHERE meeting_id = $1 AND left_at IS NULL),
		updated_at = NOW()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, countQ, id); err != nil {
		return nil, false, err
	}

	m, err := getMeeting(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return m, created, nil
}

func (s *PostgresStore) RecordLeave(ctx context.Context, meetingID uuid.UUID, identity string) (LeaveOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LeaveOutcome{}, err
	}
	defer tx.Rollback(ctx)

	var out LeaveOutcome
	const lockQ = `SELECT room_identifier, status, active_participant_count FROM meetings WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQ, meetingID).Scan(&out.RoomIdentifier, &out.Status, &out.PreviousCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeaveOutcome{}, missing(ctx, tx, meetingID)
		}
		return LeaveOutcome{}, err
	}
	out.ActiveParticipantCount = out.PreviousCount
	if out.Status != models.MeetingStatusActive {
		return out, nil
	}

	const leaveQ = `UPDATE meeting_participants SET left_at = NOW()
		WHERE meeting_id = $1 AND identity = $2 AND left_at IS NULL`
	tag, err := tx.Exec(ctx, leaveQ, meetingID, identity)
	if err != nil {
		return LeaveOutcome{}, err
	}
	out.Transitioned = tag.RowsAffected() == 1
	if out.Transitioned {
		const decQ = `UPDATE meetings SET active_participant_count = GREATEST(active_participant_count - 1, 0), updated_at = NOW()
			WHERE id = $1 RETURNING active_participant_count`
		if err := tx.QueryRow(ctx, decQ, meetingID).Scan(&out.ActiveParticipantCount); err != nil {
			return LeaveOutcome{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return LeaveOutcome{}, err
	}
	return out, nil
}

func (s *PostgresStore) AppendTranscripts(ctx context.Context, meetingID uuid.UUID, records []models.TranscriptRecord) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var status models.MeetingStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1 FOR UPDATE`, meetingID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = missing(ctx, tx, meetingID); errors.Is(err, ErrDeleted) {
				return 0, ErrNotActive
			}
		}
		return 0, err
	}
	if status != models.MeetingStatusActive {
		return 0, ErrNotActive
	}
	var next int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM meeting_transcripts WHERE meeting_id = $1`, meetingID).Scan(&next); err != nil {
		return 0, err
	}
	if _, err := copyTranscripts(ctx, tx, meetingID, next, records); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return next + len(records), nil
}

func (s *PostgresStore) ClaimFinalize(ctx context.Context, meetingID uuid.UUID) (bool, error) {
	const q = `UPDATE meetings SET status = 'ending', ending_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`
	tag, err := s.pool.Exec(ctx, q, meetingID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Either another caller claimed it, or it is gone. A tombstoned id was finalized.
	const existsQ = `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)
		OR EXISTS (SELECT 1 FROM deleted_meetings WHERE id = $1)`
	var known bool
	if err := s.pool.QueryRow(ctx, existsQ, meetingID).Scan(&known); err != nil {
		return false, err
	}
	if !known {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) CompleteFinalize(ctx context.Context, meetingID uuid.UUID, c Completion) (CompletionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CompletionResult{}, err
	}
	defer tx.Rollback(ctx)

	var status models.MeetingStatus
	var roomIdentifier string
	const lockQ = `SELECT status, room_identifier FROM meetings WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQ, meetingID).Scan(&status, &roomIdentifier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CompletionResult{}, missing(ctx, tx, meetingID)
		}
		return CompletionResult{}, err
	}
	if status != models.MeetingStatusEnding {
		return CompletionResult{}, ErrNotClaimed
	}

	if len(c.Transcripts) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM meeting_transcripts WHERE meeting_id = $1`, meetingID); err != nil {
			return CompletionResult{}, err
		}
		if _, err := copyTranscripts(ctx, tx, meetingID, 0, c.Transcripts); err != nil {
			return CompletionResult{}, err
		}
	}
	var stored int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM meeting_transcripts WHERE meeting_id = $1`, meetingID).Scan(&stored); err != nil {
		return CompletionResult{}, err
	}
	if stored == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, meetingID); err != nil {
			return CompletionResult{}, err
		}
		const tombQ = `INSERT INTO deleted_meetings (id, room_identifier) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
		if _, err := tx.Exec(ctx, tombQ, meetingID, roomIdentifier); err != nil {
			return CompletionResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return CompletionResult{}, err
		}
		return CompletionResult{Deleted: true}, nil
	}

	if len(c.Participants) > 0 {
		batch := &pgx.Batch{}
		for _, p := range c.Participants {
			if p.Identity == "" {
				continue
			}
			joined := p.JoinedAt
			if joined.IsZero() {
				joined = c.EndedAt
			}
			batch.Queue(`INSERT INTO meeting_participants (meeting_id, identity, joined_at, left_at)
				VALUES ($1, $2, $3, $4) ON CONFLICT (meeting_id, identity) DO NOTHING`,
				meetingID, p.Identity, joined, p.LeftAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return CompletionResult{}, err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE meeting_participants SET left_at = $2 WHERE meeting_id = $1 AND left_at IS NULL`, meetingID, c.EndedAt); err != nil {
		return CompletionResult{}, err
	}
	const endQ = `UPDATE meetings SET status = 'ended', ended_at = $2, active_participant_count = 0, updated_at = NOW()
		WHERE id = $1 AND status = 'ending'`
	tag, err := tx.Exec(ctx, endQ, meetingID, c.EndedAt)
	if err != nil {
		return CompletionResult{}, err
	}
	if tag.RowsAffected() != 1 {
		return CompletionResult{}, ErrNotClaimed
	}
	m, err := getMeeting(ctx, tx, meetingID)
	if err != nil {
		return CompletionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{Meeting: m}, nil
}

func (s *PostgresStore) Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	m, err := getMeeting(ctx, s.pool, meetingID)
	if errors.Is(err, ErrNotFound) {
		return nil, missing(ctx, s.pool, meetingID)
	}
	return m, err
}

func (s *PostgresStore) GetOpenByRoom(ctx context.Context, roomIdentifier string) (*models.Meeting, error) {
	var id uuid.UUID
	const q = `SELECT id FROM meetings WHERE room_identifier = $1 AND status IN ('active', 'ending')`
	if err := s.pool.QueryRow(ctx, q, roomIdentifier).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m, err := getMeeting(ctx, s.pool, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// ListByRoom returns the room's sessions newest first, without participants or transcripts.
func (s *PostgresStore) ListByRoom(ctx context.Context, roomIdentifier string, limit int) ([]models.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE room_identifier = $1 ORDER BY started_at DESC`
	args := []interface{}{roomIdentifier}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func (s *PostgresStore) ListStuckEnding(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM meetings WHERE status = 'ending' AND ending_at < $1 ORDER BY ending_at LIMIT $2`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUnsummarized returns ended meetings still missing a summary, oldest first.
func (s *PostgresStore) ListUnsummarized(ctx context.Context, after, before time.Time, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM meetings
		WHERE status = 'ended' AND summary IS NULL AND ended_at >= $1 AND ended_at < $2
		ORDER BY ended_at LIMIT $3`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, after, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SaveSummary(ctx context.Context, meetingID uuid.UUID, summary *models.Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE meetings SET summary = $2, updated_at = NOW() WHERE id = $1`, meetingID, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missing(ctx, s.pool, meetingID)
	}
	return nil
}

// missing tells a deleted session apart from an id that never existed.
func missing(ctx context.Context, db querier, meetingID uuid.UUID) error {
	var deleted bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deleted_meetings WHERE id = $1)`, meetingID).Scan(&deleted); err != nil {
		return err
	}
	if deleted {
		return ErrDeleted
	}
	return ErrNotFound
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func getMeeting(ctx context.Context, db querier, id uuid.UUID) (*models.Meeting, error) {
	m, err := scanMeeting(db.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	prows, err := db.Query(ctx, `SELECT identity, joined_at, left_at FROM meeting_participants WHERE meeting_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	for prows.Next() {
		var p models.Participant
		if err := prows.Scan(&p.Identity, &p.JoinedAt, &p.LeftAt); err != nil {
			prows.Close()
			return nil, err
		}
		m.Participants = append(m.Participants, p)
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, err
	}

	trows, err := db.Query(ctx, `SELECT speaker, text, spoken_at FROM meeting_transcripts WHERE meeting_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var t models.TranscriptRecord
		if err := trows.Scan(&t.Speaker, &t.Text, &t.Timestamp); err != nil {
			return nil, err
		}
		m.TranscriptRecords = append(m.TranscriptRecords, t)
	}
	return m, trows.Err()
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	var summary []byte
	err := row.Scan(&m.ID, &m.RoomID, &m.RoomIdentifier, &m.Status, &m.StartedBy, &m.StartedAt, &m.EndingAt, &m.EndedAt,
		&m.ActiveParticipantCount, &summary, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		var s models.Summary
		if err := json.Unmarshal(summary, &s); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		m.Summary = &s
	}
	return &m, nil
}

// copyTranscripts bulk-loads records with sequence numbers after offset.
func copyTranscripts(ctx context.Context, tx pgx.Tx, meetingID uuid.UUID, offset int, records []models.TranscriptRecord) (int64, error) {
	rows := make([][]interface{}, 0, len(records))
	for i, r := range records {
		rows = append(rows, []interface{}{meetingID, offset + i + 1, r.Speaker, r.Text, r.Timestamp})
	}
	return tx.CopyFrom(ctx,
		pgx.Identifier{"meeting_transcripts"},
		[]string{"meeting_id", "seq", "speaker", "text", "spoken_at"},
		pgx.CopyFromRows(rows),
	)
}
