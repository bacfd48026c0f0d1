package rooms

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-meetings/backend/internal/models"
)

// ErrIdentifierTaken is returned when a room identifier is already in use.
var ErrIdentifierTaken = errors.New("room identifier already taken")

const roomColumns = `id, identifier, name, owner_id, COALESCE(passcode_hash, ''), created_at, updated_at`

// Repository handles room persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a room repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a room and fills its generated fields.
func (r *Repository) Create(ctx context.Context, room *models.Room) error {
	const q = `INSERT INTO rooms (identifier, name, owner_id, passcode_hash)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, room.Identifier, room.Name, room.OwnerID, room.PasscodeHash).
		Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdentifierTaken
		}
		return err
	}
	room.HasPasscode = room.PasscodeHash != ""
	return nil
}

// GetByIdentifier returns the room, or nil when it does not exist.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE identifier = $1`, identifier).
		Scan(&room.ID, &room.Identifier, &room.Name, &room.OwnerID, &room.PasscodeHash, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	room.HasPasscode = room.PasscodeHash != ""
	return &room, nil
}
