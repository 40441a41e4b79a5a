package rooms

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo-vote/backend/pkg/response"
)

// HeaderVoterCode carries the voter's secret code on ballot submission.
const HeaderVoterCode = "X-Voter-Code"

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Name    string   `json:"name" binding:"required"`
	Options []string `json:"options" binding:"required"`
}

// BallotRequest is the body for POST /rooms/:id/ballots.
type BallotRequest struct {
	Ranking []int `json:"ranking" binding:"required"`
}

// ApproveRequest is the body for POST /admin/rooms/:code/approve.
type ApproveRequest struct {
	VoterID string `json:"voter_id" binding:"required"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, logger: logger}
}

// respondError renders a domain error as its specific HTTP status and
// message, so a rejected action always tells the caller why.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(c, "name and at least two non-empty options are required")
	case errors.Is(err, ErrMalformedBallot):
		response.BadRequest(c, "ranking must order every option index exactly once")
	case errors.Is(err, ErrRoomNotFound):
		response.NotFound(c, "room not found")
	case errors.Is(err, ErrVoterNotFound):
		response.NotFound(c, "voter not found")
	case errors.Is(err, ErrRoomEnded):
		response.Conflict(c, "voting has ended")
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(c, "operation not allowed in the room's current status")
	case errors.Is(err, ErrInsufficientVoters):
		response.Conflict(c, "at least one approved voter is required to start")
	case errors.Is(err, ErrInsufficientBallots):
		response.Conflict(c, "at least one submitted ballot is required to end")
	case errors.Is(err, ErrAlreadyApproved):
		response.Conflict(c, "voter is already approved")
	case errors.Is(err, ErrAlreadyVoted):
		response.Conflict(c, "voter has already voted")
	case errors.Is(err, ErrNotApproved):
		response.Forbidden(c, "voter is not approved")
	case errors.Is(err, ErrPersistenceUnavailable):
		response.ServiceUnavailable(c, "change could not be persisted, try again")
	default:
		h.logger.Error("unhandled room error", zap.Error(err))
		response.Internal(c, "unexpected error")
	}
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	roomID, adminCode, err := h.registry.CreateRoom(c.Request.Context(), req.Name, req.Options)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"room_id": roomID, "admin_code": adminCode})
}

// Get handles GET /rooms/:id.
func (h *Handler) Get(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	snap, err := h.registry.SnapshotForVoter(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, snap)
}

// Join handles POST /rooms/:id/join.
func (h *Handler) Join(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	voterID, voterCode, err := h.registry.Join(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"voter_id": voterID, "voter_code": voterCode})
}

// SubmitBallot handles POST /rooms/:id/ballots. The voter authenticates
// with the X-Voter-Code header; the ranking never appears in any broadcast.
func (h *Handler) SubmitBallot(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	code := c.GetHeader(HeaderVoterCode)
	if code == "" {
		response.Unauthorized(c, "voter code required")
		return
	}
	var req BallotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.registry.SubmitBallot(c.Request.Context(), roomID, code, req.Ranking); err != nil {
		// An unknown code is a failed authentication, not a missing resource.
		if errors.Is(err, ErrVoterNotFound) {
			response.Unauthorized(c, "unknown voter code")
			return
		}
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"room_id": roomID, "submitted": true})
}

// AdminGet handles GET /admin/rooms/:code.
func (h *Handler) AdminGet(c *gin.Context) {
	snap, err := h.registry.SnapshotForAdmin(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, snap)
}

// Approve handles POST /admin/rooms/:code/approve.
func (h *Handler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	voterID, err := uuid.Parse(req.VoterID)
	if err != nil {
		response.BadRequest(c, "invalid voter id")
		return
	}
	if err := h.registry.Approve(c.Request.Context(), c.Param("code"), voterID); err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"voter_id": voterID, "approved": true})
}

// StartVote handles POST /admin/rooms/:code/start.
func (h *Handler) StartVote(c *gin.Context) {
	if err := h.registry.Start(c.Request.Context(), c.Param("code")); err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"status": "started"})
}

// EndVote handles POST /admin/rooms/:code/end.
func (h *Handler) EndVote(c *gin.Context) {
	ranking, err := h.registry.End(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"status": "ended", "ranking": ranking})
}
