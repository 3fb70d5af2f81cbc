package feedback

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psinet/trustd/internal/auth"
	"github.com/psinet/trustd/internal/ledger"
	"github.com/psinet/trustd/internal/rbac"
)

// Handler exposes the feedback ledger over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a feedback handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers feedback endpoints on the router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mgr *auth.Manager) {
	r.POST("/feedback", auth.RequireAuth(mgr), h.Post)
	r.GET("/feedback/:id", h.Get)
	r.GET("/agents/:id/feedback", h.ListByAgent)
	r.GET("/agents/:id/feedback/counts", h.CountsByAgent)
	r.GET("/reviewers/:principal/feedback", h.ListByReviewer)
	r.GET("/config/min-stake", h.GetMinimumStake)
	r.PUT("/config/min-stake", auth.RequireAuth(mgr), h.SetMinimumStake)
}

// PostFeedbackRequest is the request body for posting feedback.
type PostFeedbackRequest struct {
	AgentID     string `json:"agentId" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Rating      int    `json:"rating"`
	ContextHash string `json:"contextHash"`
	Metadata    string `json:"metadata"`
	Stake       string `json:"stake"`
}

// Post appends a feedback entry for the authenticated reviewer.
func (h *Handler) Post(c *gin.Context) {
	var req PostFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	ftype, ok := ParseType(req.Type)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of positive, negative, neutral, dispute",
		})
		return
	}

	reviewer := auth.Principal(c)
	post := PostRequest{
		AgentID:     req.AgentID,
		Type:        ftype,
		Rating:      req.Rating,
		ContextHash: req.ContextHash,
		Metadata:    req.Metadata,
	}

	var (
		f   *Feedback
		err error
	)
	if req.Stake != "" && req.Stake != "0" {
		f, err = h.service.PostStaked(c.Request.Context(), reviewer, post, req.Stake)
	} else {
		f, err = h.service.Post(c.Request.Context(), reviewer, post)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Get returns one feedback entry.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "feedback ID must be an integer",
		})
		return
	}
	f, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// ListByAgent returns an agent's feedback entries.
func (h *Handler) ListByAgent(c *gin.Context) {
	agentID := c.Param("id")
	entries, err := h.service.ListByAgent(c.Request.Context(), agentID, parseLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agentID, "feedback": entries, "count": len(entries)})
}

// CountsByAgent returns an agent's per-type feedback counters.
func (h *Handler) CountsByAgent(c *gin.Context) {
	agentID := c.Param("id")
	counts, err := h.service.Counts(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agentID, "counts": counts, "total": counts.Total()})
}

// ListByReviewer returns a reviewer's feedback entries.
func (h *Handler) ListByReviewer(c *gin.Context) {
	reviewer := c.Param("principal")
	entries, err := h.service.ListByReviewer(c.Request.Context(), reviewer, parseLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewer": reviewer, "feedback": entries, "count": len(entries)})
}

// GetMinimumStake returns the current minimum stake.
func (h *Handler) GetMinimumStake(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"minStake": h.service.MinimumStake()})
}

// SetMinimumStakeRequest is the request body for updating the minimum stake.
type SetMinimumStakeRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// SetMinimumStake updates the minimum stake. Admin only.
func (h *Handler) SetMinimumStake(c *gin.Context) {
	var req SetMinimumStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if err := h.service.SetMinimumStake(c.Request.Context(), auth.Principal(c), req.Amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minStake": h.service.MinimumStake()})
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "feedback entry not found",
		})
	case errors.Is(err, ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "agent_not_found",
			"message": "agent is unknown or inactive",
		})
	case errors.Is(err, ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of positive, negative, neutral, dispute",
		})
	case errors.Is(err, ErrInvalidRating):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_rating",
			"message": "rating must be between 0 and 100",
		})
	case errors.Is(err, ErrInvalidStake):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_stake",
			"message": "stake must be a positive credit amount",
		})
	case errors.Is(err, ErrInsufficientStake):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "insufficient_stake",
			"message": "stake is below the configured minimum",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "not enough available credits to bond the stake",
		})
	case errors.Is(err, rbac.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "caller lacks the required role",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
