package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psinet/trustd/internal/auth"
	"github.com/psinet/trustd/internal/feedback"
	"github.com/psinet/trustd/internal/vault"
)

// Handler exposes dispute operations over HTTP.
type Handler struct {
	service *Service
	escrows *vault.Vault
}

// NewHandler creates a dispute handler. escrows may be nil to hide the
// escrow inspection endpoint.
func NewHandler(service *Service, escrows *vault.Vault) *Handler {
	return &Handler{service: service, escrows: escrows}
}

// RegisterRoutes registers dispute endpoints on the router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mgr *auth.Manager) {
	r.POST("/feedback/:id/dispute", auth.RequireAuth(mgr), h.Dispute)
	r.POST("/feedback/:id/resolve", auth.RequireAuth(mgr), h.Resolve)
	if h.escrows != nil {
		r.GET("/feedback/:id/escrow", h.GetEscrow)
	}
}

// DisputeRequest is the request body for disputing feedback.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute flags a feedback entry as contested.
func (h *Handler) Dispute(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	f, err := h.service.Dispute(c.Request.Context(), auth.Principal(c), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// ResolveRequest is the request body for resolving a dispute.
type ResolveRequest struct {
	RemoveFeedback bool `json:"removeFeedback"`
	SlashStake     bool `json:"slashStake"`
}

// Resolve settles a disputed feedback entry.
func (h *Handler) Resolve(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	f, err := h.service.Resolve(c.Request.Context(), auth.Principal(c), id, req.RemoveFeedback, req.SlashStake)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"feedback": f,
		"removed":  req.RemoveFeedback,
		"slashed":  req.SlashStake,
	})
}

// GetEscrow returns the stake escrow bonded to a feedback entry.
func (h *Handler) GetEscrow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	escrow, err := h.escrows.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "feedback ID must be an integer",
		})
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feedback.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "feedback entry not found",
		})
	case errors.Is(err, vault.ErrNoEscrow):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_escrow",
			"message": "no stake is held for this feedback entry",
		})
	case errors.Is(err, ErrAlreadyDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_disputed",
			"message": "feedback entry is already under dispute",
		})
	case errors.Is(err, ErrNotDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_disputed",
			"message": "feedback entry is not under dispute",
		})
	case errors.Is(err, vault.ErrReentrantResolution):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "resolution_in_progress",
			"message": "another resolution is in progress, retry shortly",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "caller may not act on this dispute",
		})
	case errors.Is(err, vault.ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "transfer_failed",
			"message": "stake transfer failed, resolution aborted",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
