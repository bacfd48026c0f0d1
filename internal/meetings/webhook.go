package meetings

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/livekit"
	"github.com/aura-meetings/backend/pkg/response"
)

// maxWebhookBody bounds webhook payloads read into memory.
const maxWebhookBody = 1 << 20

// OccupancyBody is the body for POST /webhooks/occupancy.
type OccupancyBody struct {
	RoomIdentifier     string `json:"room_identifier" binding:"required"`
	RoomConfirmedEmpty bool   `json:"room_confirmed_empty"`
}

// WebhookHandler turns media-transport signals into lifecycle operations.
type WebhookHandler struct {
	svc      *Service
	verifier *livekit.Verifier
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler. verifier may be nil when LiveKit is not configured.
func NewWebhookHandler(svc *Service, verifier *livekit.Verifier, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, verifier: verifier, logger: logger}
}

// Occupancy handles POST /webhooks/occupancy. A confirmed-empty room force-finalizes its open session.
func (h *WebhookHandler) Occupancy(c *gin.Context) {
	var body OccupancyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !body.RoomConfirmedEmpty {
		response.OK(c, gin.H{"ignored": true})
		return
	}
	res, err := h.svc.EndByOccupancy(c.Request.Context(), strings.TrimSpace(body.RoomIdentifier))
	if err != nil {
		_ = c.Error(err)
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// LiveKit handles POST /webhooks/livekit. Unhandled event types are acknowledged and dropped.
func (h *WebhookHandler) LiveKit(c *gin.Context) {
	if h.verifier == nil {
		response.ServiceUnavailable(c, "LiveKit webhooks not configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	ev, err := h.verifier.Verify(c.Request)
	if err != nil {
		if errors.Is(err, livekit.ErrUnauthorized) {
			h.logger.Warn("rejected livekit webhook", zap.Error(err))
			response.Unauthorized(c, "invalid webhook signature")
			return
		}
		response.BadRequest(c, "invalid event")
		return
	}
	room := ev.GetRoom().GetName()
	if room == "" {
		response.OK(c, gin.H{"ignored": true})
		return
	}

	log := h.logger.With(zap.String("event", ev.GetEvent()), zap.String("event_id", ev.GetId()), zap.String("room", room))
	switch ev.GetEvent() {
	case livekit.EventParticipantLeft:
		identity := ev.GetParticipant().GetIdentity()
		if identity == "" {
			response.OK(c, gin.H{"ignored": true})
			return
		}
		d, err := h.svc.ParticipantLeftRoom(c.Request.Context(), room, identity)
		if err != nil {
			log.Error("participant_left handling failed", zap.Error(err))
			response.Error(c, err)
			return
		}
		log.Debug("participant left", zap.String("identity", identity), zap.Bool("should_finalize", d.ShouldFinalize))
		response.OK(c, d)
	case livekit.EventRoomFinished:
		res, err := h.svc.EndByOccupancy(c.Request.Context(), room)
		if err != nil {
			log.Error("room_finished handling failed", zap.Error(err))
			response.Error(c, err)
			return
		}
		response.OK(c, res)
	default:
		c.Status(http.StatusOK)
	}
}
