package rooms

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/middleware"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/response"
	"github.com/aura-meetings/backend/pkg/utils"
)

var (
	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,63}$`)
	slugStrip         = regexp.MustCompile(`[^a-z0-9]+`)
)

// Store is the room persistence the handler needs.
type Store interface {
	Create(ctx context.Context, room *models.Room) error
	GetByIdentifier(ctx context.Context, identifier string) (*models.Room, error)
}

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Name       string `json:"name" binding:"required"`
	Identifier string `json:"identifier"` // optional; derived from name when empty
	Passcode   string `json:"passcode"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a room handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ownerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	identifier := strings.ToLower(strings.TrimSpace(req.Identifier))
	if identifier == "" {
		identifier = Slug(req.Name)
	}
	if !identifierPattern.MatchString(identifier) {
		response.BadRequest(c, "identifier must be 3-64 lowercase letters, digits or dashes")
		return
	}

	room := &models.Room{Identifier: identifier, Name: strings.TrimSpace(req.Name), OwnerID: ownerID}
	if req.Passcode != "" {
		hash, err := utils.HashSecret(req.Passcode)
		if errors.Is(err, utils.ErrSecretTooLong) {
			response.BadRequest(c, "passcode must be at most 72 bytes")
			return
		}
		if err != nil {
			response.Internal(c, "failed to hash passcode")
			return
		}
		room.PasscodeHash = hash
	}
	if err := h.store.Create(c.Request.Context(), room); err != nil {
		if errors.Is(err, ErrIdentifierTaken) {
			response.Conflict(c, "room identifier already taken")
			return
		}
		h.logger.Error("create room failed", zap.Error(err))
		response.ServiceUnavailable(c, "failed to create room")
		return
	}
	response.Created(c, room)
}

// Get handles GET /rooms/:identifier.
func (h *Handler) Get(c *gin.Context) {
	room, err := h.store.GetByIdentifier(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.logger.Error("get room failed", zap.Error(err))
		response.ServiceUnavailable(c, "failed to load room")
		return
	}
	if room == nil {
		response.NotFound(c, "room not found")
		return
	}
	response.OK(c, room)
}

// Slug derives a room identifier from a display name, with a short random suffix so
// rooms with the same name do not collide.
func Slug(name string) string {
	base := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(base) > 48 {
		base = strings.TrimRight(base[:48], "-")
	}
	if base == "" {
		base = "room"
	}
	return base + "-" + uuid.NewString()[:8]
}
