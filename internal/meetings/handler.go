package meetings

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-meetings/backend/internal/middleware"
	"github.com/aura-meetings/backend/internal/models"
	"github.com/aura-meetings/backend/pkg/response"
)

// StartBody is the body for POST /meetings/start.
type StartBody struct {
	RoomIdentifier      string `json:"room_identifier" binding:"required"`
	ParticipantIdentity string `json:"participant_identity"` // defaults to the caller's user id
	Passcode            string `json:"passcode"`
}

// LeaveBody is the body for POST /meetings/:id/leave.
type LeaveBody struct {
	ParticipantIdentity string `json:"participant_identity"`
}

// EndBody is the body for POST /meetings/:id/end.
type EndBody struct {
	Transcripts  []models.TranscriptRecord `json:"transcripts"`
	Participants []models.Participant      `json:"participants"`
	EndedAt      *time.Time                `json:"ended_at"`
}

// TranscriptsBody is the body for POST /meetings/:id/transcripts.
type TranscriptsBody struct {
	Records []models.TranscriptRecord `json:"records" binding:"required"`
}

// TranscriptURLs presigns downloads of archived transcripts.
type TranscriptURLs interface {
	TranscriptDownloadURL(ctx context.Context, roomIdentifier, meetingID string) (string, error)
}

// Handler serves the meeting lifecycle endpoints.
type Handler struct {
	svc          *Service
	archive      TranscriptURLs
	historyLimit int
	logger       *zap.Logger
}

// NewHandler creates a meetings handler. archive may be nil when archiving is off.
func NewHandler(svc *Service, archive TranscriptURLs, historyLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Handler{svc: svc, archive: archive, historyLimit: historyLimit, logger: logger}
}

// Start handles POST /meetings/start.
func (h *Handler) Start(c *gin.Context) {
	var body StartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req := StartRequest{
		RoomIdentifier:      body.RoomIdentifier,
		ParticipantIdentity: body.ParticipantIdentity,
		Passcode:            body.Passcode,
	}
	if userID, ok := middleware.UserID(c); ok {
		req.UserID = &userID
		if req.ParticipantIdentity == "" {
			req.ParticipantIdentity = userID.String()
		}
	}
	res, err := h.svc.StartOrJoin(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.WasNewlyCreated {
		response.Created(c, res)
		return
	}
	response.OK(c, res)
}

// Leave handles POST /meetings/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var body LeaveBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if body.ParticipantIdentity == "" {
		if userID, ok := middleware.UserID(c); ok {
			body.ParticipantIdentity = userID.String()
		}
	}
	d, err := h.svc.RecordLeave(c.Request.Context(), id, body.ParticipantIdentity)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, d)
}

// End handles POST /meetings/:id/end. Losing a finalize race is a 200 with already_handled.
func (h *Handler) End(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var body EndBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	res, err := h.svc.Finalize(c.Request.Context(), id, EndPayload{
		Transcripts:  body.Transcripts,
		Participants: body.Participants,
		EndedAt:      body.EndedAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// AppendTranscripts handles POST /meetings/:id/transcripts.
func (h *Handler) AppendTranscripts(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var body TranscriptsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	n, err := h.svc.AppendTranscripts(c.Request.Context(), id, body.Records)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"session_id": id, "transcript_count": n})
}

// Get handles GET /meetings/:id. Clients poll it until summary is present.
func (h *Handler) Get(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	m, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, m)
}

// ListByRoom handles GET /rooms/:identifier/meetings?limit=N.
func (h *Handler) ListByRoom(c *gin.Context) {
	limit := h.historyLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}
	list, err := h.svc.ListByRoom(c.Request.Context(), c.Param("identifier"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// TranscriptURL handles GET /meetings/:id/transcript-url.
func (h *Handler) TranscriptURL(c *gin.Context) {
	if h.archive == nil {
		response.ServiceUnavailable(c, "transcript archive not configured")
		return
	}
	id, ok := meetingID(c)
	if !ok {
		return
	}
	m, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if m.Status != models.MeetingStatusEnded {
		response.Conflict(c, "meeting has not ended")
		return
	}
	url, err := h.archive.TranscriptDownloadURL(c.Request.Context(), m.RoomIdentifier, m.ID.String())
	if err != nil {
		h.logger.Error("presign transcript failed", zap.String("meeting_id", id.String()), zap.Error(err))
		response.ServiceUnavailable(c, "failed to presign transcript")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: gin.H{"url": url}})
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Error(c, err)
}

func meetingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return uuid.Nil, false
	}
	return id, true
}
