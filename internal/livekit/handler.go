package livekit

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/config"
	"github.com/aura-meetings/backend/internal/middleware"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/response"
	"github.com/aura-meetings/backend/pkg/utils"
)

// RoomLookup resolves a room by identifier, returning nil when it does not exist.
type RoomLookup interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Room, error)
}

// TokenResponse is returned by GET /rooms/:identifier/token.
type TokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// Handler issues LiveKit access tokens.
type Handler struct {
	rooms  RoomLookup
	cfg    config.LiveKitConfig
	logger *zap.Logger
}

// NewHandler creates a LiveKit token handler.
func NewHandler(rooms RoomLookup, cfg config.LiveKitConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rooms: rooms, cfg: cfg, logger: logger}
}

// GetToken handles GET /rooms/:identifier/token?passcode=... (JWT required).
// The caller's user id is the media identity, so leave webhooks map back to the account.
func (h *Handler) GetToken(c *gin.Context) {
	if h.cfg.APIKey == "" || h.cfg.APISecret == "" {
		response.ServiceUnavailable(c, "LiveKit not configured (LIVEKIT_API_KEY, LIVEKIT_API_SECRET)")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	room, err := h.rooms.GetByIdentifier(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.logger.Error("room lookup failed", zap.Error(err))
		response.ServiceUnavailable(c, "failed to load room")
		return
	}
	if room == nil {
		response.NotFound(c, "room not found")
		return
	}
	if room.PasscodeHash != "" && !utils.CheckSecret(c.Query("passcode"), room.PasscodeHash) {
		response.Forbidden(c, "invalid room passcode")
		return
	}

	identity := userID.String()
	token, err := GenerateJoinToken(h.cfg.APIKey, h.cfg.APISecret, JoinTokenParams{
		Room:       room.Identifier,
		Identity:   identity,
		Name:       c.GetString(middleware.ContextUserName),
		CanPublish: true,
		TTL:        h.cfg.TokenTTL,
	})
	if err != nil {
		h.logger.Error("livekit token generation failed", zap.Error(err), zap.String("room", room.Identifier))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, URL: h.cfg.URL, Room: room.Identifier, Identity: identity})
}
