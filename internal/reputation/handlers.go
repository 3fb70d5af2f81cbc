package reputation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for reputation
type Handler struct {
	scorer        *Scorer
	snapshotStore SnapshotStore
	signer        *Signer
}

// NewHandler creates a new reputation handler
func NewHandler(scorer *Scorer) *Handler {
	return &Handler{scorer: scorer}
}

// NewHandlerFull creates a handler with snapshot store and signer.
func NewHandlerFull(scorer *Scorer, store SnapshotStore, signer *Signer) *Handler {
	return &Handler{
		scorer:        scorer,
		snapshotStore: store,
		signer:        signer,
	}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents/:id/reputation", h.GetReputation)
	r.POST("/agents/:id/reputation/recompute", h.Recompute)
	r.POST("/reputation/batch", h.GetBatchReputation)
	r.GET("/agents/:id/reputation/history", h.GetReputationHistory)
}

// GetReputation returns the cached reputation score for a single agent.
// Agents never scored sit at the neutral default.
func (h *Handler) GetReputation(c *gin.Context) {
	agentID := c.Param("id")

	result, err := h.scorer.GetScore(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read reputation score",
		})
		return
	}

	resp := gin.H{"reputation": result}
	if h.signer != nil {
		sig, issued, expires, err := h.signer.Sign(result)
		if err == nil {
			resp["signature"] = sig
			resp["issuedAt"] = issued
			resp["expiresAt"] = expires
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Recompute rescans the agent's full ledger and refreshes the cache.
// POST /v1/agents/:id/reputation/recompute
func (h *Handler) Recompute(c *gin.Context) {
	agentID := c.Param("id")

	score, counted, err := h.scorer.Recompute(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "recompute_failed",
			"message": "failed to recompute reputation score",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId":       agentID,
		"score":         score,
		"feedbackCount": counted,
	})
}

// GetBatchReputation returns reputation scores for multiple agents.
// POST /v1/reputation/batch
func (h *Handler) GetBatchReputation(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'agentIds' array",
		})
		return
	}

	if len(req.AgentIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one agent ID is required",
		})
		return
	}
	if len(req.AgentIDs) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "too_many_agents",
			"message": "Maximum 100 agent IDs per batch request",
		})
		return
	}

	var scores []*SignedScore
	for _, agentID := range req.AgentIDs {
		result, err := h.scorer.GetScore(c.Request.Context(), agentID)
		if err != nil {
			// Unknown agents surface the neutral default rather than an error.
			result = &Result{AgentID: agentID, Score: DefaultScore}
		}
		signed := &SignedScore{Reputation: result}
		if h.signer != nil {
			sig, issued, expires, err := h.signer.Sign(result)
			if err == nil {
				signed.Signature = sig
				signed.IssuedAt = issued
				signed.ExpiresAt = expires
			}
		}
		scores = append(scores, signed)
	}

	resp := BatchResponse{Scores: scores}
	if h.signer != nil {
		sig, issued, expires, err := h.signer.Sign(scores)
		if err == nil {
			resp.Signature = sig
			resp.IssuedAt = issued
			resp.ExpiresAt = expires
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetReputationHistory returns historical reputation snapshots.
// GET /v1/agents/:id/reputation/history?from=&to=&limit=
func (h *Handler) GetReputationHistory(c *gin.Context) {
	agentID := c.Param("id")

	if h.snapshotStore == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_available",
			"message": "Historical reputation data is not available",
		})
		return
	}

	q := HistoryQuery{
		AgentID: agentID,
		Limit:   100,
	}

	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
			if q.Limit > 1000 {
				q.Limit = 1000
			}
		}
	}

	snapshots, err := h.snapshotStore.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query reputation history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId":   agentID,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}
